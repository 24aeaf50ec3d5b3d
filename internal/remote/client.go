// Package remote is the document-database side of the dual-engine layer. It
// exposes the same logical entities as the relational store, but in the
// remote's richer nested shape (embedded order items, populated references).
package remote

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

const defaultOpTimeout = 5 * time.Second

type Client struct {
	mc *mongo.Client
	db *mongo.Database
}

// Connect dials the remote store. Server selection is bounded so a dead
// remote fails fast instead of hanging the caller; an empty URI is a
// configuration for permanently-offline operation and is rejected here so
// callers can skip constructing a client at all.
func Connect(ctx context.Context, uri, dbName string, timeout time.Duration) (*Client, error) {
	if uri == "" {
		return nil, fmt.Errorf("mongo uri is required")
	}
	if timeout <= 0 {
		timeout = defaultOpTimeout
	}

	opts := options.Client().
		ApplyURI(uri).
		SetServerSelectionTimeout(timeout).
		SetConnectTimeout(timeout)

	mc, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, err
	}

	return &Client{mc: mc, db: mc.Database(dbName)}, nil
}

// Ping probes the remote with a bounded timeout. Used by the connectivity
// monitor; any error means "offline".
func (c *Client) Ping(ctx context.Context, timeout time.Duration) error {
	if timeout <= 0 {
		timeout = defaultOpTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return c.mc.Ping(ctx, readpref.Primary())
}

func (c *Client) Disconnect(ctx context.Context) error {
	return c.mc.Disconnect(ctx)
}

func (c *Client) Database() *mongo.Database { return c.db }

func (c *Client) Collection(name string) *mongo.Collection {
	return c.db.Collection(name)
}

// StartSession exposes the underlying session machinery for the mongo order
// engine's multi-document transactions.
func (c *Client) StartSession() (mongo.Session, error) {
	return c.mc.StartSession()
}
