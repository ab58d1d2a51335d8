package registry

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

const conceptQuery = `
MATCH (i:Item)-[:ASSESSES]->(c:Concept)
RETURN i.id AS item, coalesce(i.kind, 'question') AS kind, c.id AS concept,
       coalesce(c.importance, 1.0) AS importance
ORDER BY item, concept
`

// Neo4jConfig holds connection settings for the graph-backed source.
type Neo4jConfig struct {
	URI         string
	User        string
	Password    string
	Database    string
	MaxPoolSize int
	Timeout     time.Duration
}

// Neo4jSource loads (:Item)-[:ASSESSES]->(:Concept) edges from Neo4j.
type Neo4jSource struct {
	driver   neo4j.DriverWithContext
	database string
}

// NewNeo4jSource connects and verifies connectivity.
func NewNeo4jSource(ctx context.Context, cfg Neo4jConfig) (*Neo4jSource, error) {
	if cfg.URI == "" {
		return nil, fmt.Errorf("%w: neo4j uri is empty", ErrNoSource)
	}
	if cfg.User == "" {
		cfg.User = "neo4j"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.MaxPoolSize <= 0 {
		cfg.MaxPoolSize = 10
	}
	driver, err := neo4j.NewDriverWithContext(cfg.URI, neo4j.BasicAuth(cfg.User, cfg.Password, ""), func(c *neo4j.Config) {
		c.MaxConnectionPoolSize = cfg.MaxPoolSize
		c.SocketConnectTimeout = cfg.Timeout
	})
	if err != nil {
		return nil, fmt.Errorf("neo4j: init driver: %w", err)
	}
	vctx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()
	if err := driver.VerifyConnectivity(vctx); err != nil {
		_ = driver.Close(ctx)
		return nil, fmt.Errorf("neo4j: verify connectivity: %w", err)
	}
	return &Neo4jSource{driver: driver, database: cfg.Database}, nil
}

// Name implements Source.
func (n *Neo4jSource) Name() string { return "neo4j" }

// Load implements Source.
func (n *Neo4jSource) Load(ctx context.Context) (*Snapshot, error) {
	session := n.driver.NewSession(ctx, neo4j.SessionConfig{
		AccessMode:   neo4j.AccessModeRead,
		DatabaseName: n.database,
	})
	defer session.Close(ctx)

	out, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, conceptQuery, nil)
		if err != nil {
			return nil, err
		}
		records, err := res.Collect(ctx)
		if err != nil {
			return nil, err
		}
		return rowsToMappings(records)
	})
	if err != nil {
		return nil, fmt.Errorf("neo4j: load concepts: %w", err)
	}
	rows := out.(graphRows)
	return NewSnapshot(n.Name(), rows.mappings, rows.importance)
}

// Close releases the driver.
func (n *Neo4jSource) Close(ctx context.Context) error {
	if n == nil || n.driver == nil {
		return nil
	}
	return n.driver.Close(ctx)
}

type graphRows struct {
	mappings   []Mapping
	importance map[string]float64
}

func rowsToMappings(records []*neo4j.Record) (graphRows, error) {
	rows := graphRows{importance: make(map[string]float64)}
	for _, rec := range records {
		item, err := graphID(rec, "item")
		if err != nil {
			return rows, err
		}
		kind, _, _ := neo4j.GetRecordValue[string](rec, "kind")
		concept, err := graphID(rec, "concept")
		if err != nil {
			return rows, err
		}
		if raw, ok := rec.Get("importance"); ok {
			switch w := raw.(type) {
			case float64:
				rows.importance[concept] = w
			case int64:
				rows.importance[concept] = float64(w)
			}
		}
		rows.mappings = append(rows.mappings, Mapping{ItemID: item, Kind: ItemKind(kind), Concepts: []string{concept}})
	}
	return rows, nil
}

// graphID reads an identifier property stored as a string or an integer.
func graphID(rec *neo4j.Record, key string) (string, error) {
	raw, ok := rec.Get(key)
	if !ok {
		return "", fmt.Errorf("%w: %s: missing", ErrInvalidSource, key)
	}
	switch v := raw.(type) {
	case string:
		return v, nil
	case int64:
		return strconv.FormatInt(v, 10), nil
	default:
		return "", fmt.Errorf("%w: %s: unsupported type %T", ErrInvalidSource, key, raw)
	}
}
