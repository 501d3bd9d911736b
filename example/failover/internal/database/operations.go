package database

import (
	"context"
	"log"

	"github.com/cozyframework/database/dbx"
)

// User represents a user in the database
type User struct {
	ID     int    `db:"id"`
	Org    string `db:"org"`
	Region string `db:"region"`
	Name   string `db:"name"`
	Email  string `db:"email"`
}

// CreateTable creates the users table if it doesn't exist
func (c *Cluster) CreateTable(ctx context.Context) error {
	conn, err := c.Get(ctx)
	if err != nil {
		return err
	}

	query := `
		CREATE TABLE IF NOT EXISTS users (
			id SERIAL PRIMARY KEY,
			org VARCHAR(50),
			region VARCHAR(50),
			name VARCHAR(100),
			email VARCHAR(100) UNIQUE
		)
	`
	_, err = conn.Exec(ctx, query)
	return err
}

// InsertUsers upserts the sample users through one prepared statement,
// rebinding values between executions.
func (c *Cluster) InsertUsers(ctx context.Context) error {
	conn, err := c.Get(ctx)
	if err != nil {
		return err
	}

	stmt, err := conn.Prepare(ctx,
		"INSERT INTO users (org, region, name, email) VALUES (?, ?, ?, ?) ON CONFLICT DO NOTHING")
	if err != nil {
		return err
	}
	defer stmt.Close()

	users := []User{
		{Org: "acme", Region: "eu", Name: "Alice", Email: "alice@example.com"},
		{Org: "acme", Region: "us", Name: "Bob", Email: "bob@example.com"},
		{Org: "globex", Region: "eu", Name: "Charlie", Email: "charlie@example.com"},
	}

	for _, user := range users {
		if err := stmt.BindValue(1, user.Org, dbx.TypeString); err != nil {
			return err
		}
		if err := stmt.BindValue(2, user.Region, dbx.TypeString); err != nil {
			return err
		}
		if err := stmt.BindValue(3, user.Name, dbx.TypeString); err != nil {
			return err
		}
		if err := stmt.BindValue(4, user.Email, dbx.TypeString); err != nil {
			return err
		}
		if _, err := stmt.Exec(ctx); err != nil {
			return err
		}
	}

	log.Printf("✏️  Upserted %d users", len(users))
	return nil
}

// UsersByRegion fetches one org's users grouped by region
func (c *Cluster) UsersByRegion(ctx context.Context, org string) (dbx.Grouped, error) {
	conn, err := c.Get(ctx)
	if err != nil {
		return nil, err
	}

	stmt, err := conn.Prepare(ctx,
		"SELECT region, id, name, email FROM users WHERE org = :org")
	if err != nil {
		return nil, err
	}
	defer stmt.Close()

	if err := stmt.BindValue(":org", org, dbx.TypeString); err != nil {
		return nil, err
	}

	grouped, err := stmt.FetchAllGrouped(ctx, "region")
	if err != nil {
		return nil, err
	}
	log.Printf("📖 Grouped %d regions for org %q", len(grouped), org)
	return grouped, nil
}

// GetUser fetches a single user as a struct
func (c *Cluster) GetUser(ctx context.Context, name string) (*User, error) {
	conn, err := c.Get(ctx)
	if err != nil {
		return nil, err
	}

	stmt, err := conn.Prepare(ctx,
		"SELECT id, org, region, name, email FROM users WHERE name = :name")
	if err != nil {
		return nil, err
	}
	defer stmt.Close()

	if err := stmt.BindValue(":name", name, dbx.TypeString); err != nil {
		return nil, err
	}

	user, err := dbx.Get[User](ctx, stmt)
	if err != nil {
		return nil, err
	}
	if user == nil {
		log.Printf("📖 No user named %q", name)
		return nil, nil
	}
	log.Printf("📖 Got user: %s (%s)", user.Name, user.Email)
	return user, nil
}

// CountByOrg returns user counts keyed by org
func (c *Cluster) CountByOrg(ctx context.Context) (map[any]any, error) {
	conn, err := c.Get(ctx)
	if err != nil {
		return nil, err
	}

	stmt, err := conn.Prepare(ctx,
		"SELECT org, COUNT(*) AS total FROM users GROUP BY org")
	if err != nil {
		return nil, err
	}
	defer stmt.Close()

	counts, err := stmt.FetchAllColumnIndexed(ctx, "total", "org")
	if err != nil {
		return nil, err
	}
	log.Printf("📖 Counted users across %d orgs", len(counts))
	return counts, nil
}

// InsertWithTransaction inserts and reads back a user inside one transaction
func (c *Cluster) InsertWithTransaction(ctx context.Context) error {
	conn, err := c.Get(ctx)
	if err != nil {
		return err
	}

	if err := conn.Begin(ctx); err != nil {
		return err
	}

	_, err = conn.Exec(ctx,
		"INSERT INTO users (org, region, name, email) VALUES (?, ?, ?, ?) ON CONFLICT DO NOTHING",
		"acme", "eu", "Transaction User", "tx@example.com",
	)
	if err != nil {
		conn.Rollback()
		return err
	}

	stmt, err := conn.Query(ctx,
		"SELECT id, name FROM users WHERE email = ?", "tx@example.com")
	if err != nil {
		conn.Rollback()
		return err
	}
	row, err := stmt.Fetch(ctx)
	stmt.Close()
	if err != nil {
		conn.Rollback()
		return err
	}
	if row != nil {
		log.Printf("📖 Transaction query result: %v (id %v)", row["name"], row["id"])
	}

	if err := conn.Commit(); err != nil {
		return err
	}
	log.Printf("✅ Transaction committed successfully")
	return nil
}
