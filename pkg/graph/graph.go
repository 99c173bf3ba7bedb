// Package graph records the follow relation discovered by the crawler in Neo4j.
package graph

import (
	"context"
	"fmt"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"postpulse/pkg/config"
	"postpulse/pkg/logger"
	"postpulse/pkg/models"
)

// Runner executes one Cypher query and buffers its result.
type Runner interface {
	Run(ctx context.Context, query string, params map[string]interface{}) (*neo4j.EagerResult, error)
}

// Neo4jRunner runs queries through the official driver against one database.
type Neo4jRunner struct {
	driver   neo4j.DriverWithContext
	database string
}

func NewNeo4jRunner(cfg config.GraphConfig) (*Neo4jRunner, error) {
	driver, err := neo4j.NewDriverWithContext(cfg.URI, neo4j.BasicAuth(cfg.Username, cfg.Password, ""))
	if err != nil {
		return nil, fmt.Errorf("could not create Neo4j driver: %w", err)
	}
	return &Neo4jRunner{driver: driver, database: cfg.Database}, nil
}

func (r *Neo4jRunner) Verify(ctx context.Context) error {
	return r.driver.VerifyConnectivity(ctx)
}

func (r *Neo4jRunner) Run(ctx context.Context, query string, params map[string]interface{}) (*neo4j.EagerResult, error) {
	result, err := neo4j.ExecuteQuery(ctx, r.driver, query, params,
		neo4j.EagerResultTransformer,
		neo4j.ExecuteQueryWithDatabase(r.database),
	)
	if err != nil {
		return nil, fmt.Errorf("error executing neo4j query: %w", err)
	}
	return result, nil
}

func (r *Neo4jRunner) Close(ctx context.Context) error {
	return r.driver.Close(ctx)
}

const (
	constraintQuery = `CREATE CONSTRAINT account_handle IF NOT EXISTS
FOR (a:Account) REQUIRE a.handle IS UNIQUE`

	followsQuery = `MERGE (from:Account {handle: $from})
WITH from
UNWIND $to AS target
MERGE (to:Account {handle: target.handle})
SET to.followers = target.followers, to.lang = target.lang
MERGE (from)-[:FOLLOWS]->(to)`

	countsQuery = `MATCH (a:Account)
OPTIONAL MATCH (a)-[f:FOLLOWS]->()
RETURN count(DISTINCT a) AS accounts, count(f) AS follows`
)

// EdgeWriter stores (:Account)-[:FOLLOWS]->(:Account) edges.
type EdgeWriter struct {
	runner Runner
	logger logger.Logger
}

func NewEdgeWriter(runner Runner, log logger.Logger) *EdgeWriter {
	return &EdgeWriter{runner: runner, logger: logger.OrNop(log).WithField("component", "graph")}
}

// EnsureSchema creates the uniqueness constraint on account handles.
func (w *EdgeWriter) EnsureSchema(ctx context.Context) error {
	_, err := w.runner.Run(ctx, constraintQuery, nil)
	return err
}

// RecordFollows merges one edge from `from` to every account in `to`.
func (w *EdgeWriter) RecordFollows(ctx context.Context, from string, to []models.Account) error {
	if len(to) == 0 {
		return nil
	}
	targets := make([]map[string]interface{}, len(to))
	for i, a := range to {
		targets[i] = map[string]interface{}{
			"handle":    a.Handle,
			"followers": int64(a.Followers),
			"lang":      a.Language(),
		}
	}

	if _, err := w.runner.Run(ctx, followsQuery, map[string]interface{}{"from": from, "to": targets}); err != nil {
		return fmt.Errorf("record follows of %s: %w", from, err)
	}
	w.logger.DebugWithFields("Recorded follow edges", map[string]interface{}{
		"account": from,
		"edges":   len(to),
	})
	return nil
}

// Counts returns how many accounts and follow edges the graph holds.
func (w *EdgeWriter) Counts(ctx context.Context) (accounts, follows int64, err error) {
	result, err := w.runner.Run(ctx, countsQuery, nil)
	if err != nil {
		return 0, 0, err
	}
	if len(result.Records) == 0 {
		return 0, 0, nil
	}
	record := result.Records[0]
	if accounts, _, err = neo4j.GetRecordValue[int64](record, "accounts"); err != nil {
		return 0, 0, err
	}
	if follows, _, err = neo4j.GetRecordValue[int64](record, "follows"); err != nil {
		return 0, 0, err
	}
	return accounts, follows, nil
}
