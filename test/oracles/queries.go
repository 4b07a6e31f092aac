package oracles

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

type Oracle struct {
	Name string
	SQL  string
}

// All returns the invariant queries; each must come back empty.
func All() []Oracle {
	return []Oracle{
		{
			Name: "O1_status_derived_from_consent",
			SQL: `SELECT id, status, supplier_agreed, requester_agreed FROM matches
                  WHERE (status = 'both_agreed') <> (supplier_agreed AND requester_agreed)`,
		},
		{
			Name: "O2_message_parties",
			SQL: `SELECT m.id, m.sender_id, m.receiver_id FROM messages m
                  JOIN matches x ON x.id = m.match_id
                  WHERE NOT ((m.sender_id = x.supplier_id AND m.receiver_id = x.requester_id)
                          OR (m.sender_id = x.requester_id AND m.receiver_id = x.supplier_id))`,
		},
		{
			Name: "O3_message_before_match",
			SQL: `SELECT m.id, m.created_at, x.created_at FROM messages m
                  JOIN matches x ON x.id = m.match_id
                  WHERE m.created_at < x.created_at`,
		},
		{
			Name: "O4_outbox_stuck",
			SQL: `SELECT id, status, claimed_at FROM outbox
                  WHERE status IN ('pending', 'dispatching')
                    AND now() - created_at > interval '30 seconds'`,
		},
		{
			Name: "O5_duplicate_match",
			SQL: `SELECT part_id::text, initiator_id FROM matches WHERE part_id IS NOT NULL
                  GROUP BY part_id, initiator_id HAVING COUNT(*) > 1
                  UNION ALL
                  SELECT request_id::text, initiator_id FROM matches WHERE request_id IS NOT NULL
                  GROUP BY request_id, initiator_id HAVING COUNT(*) > 1`,
		},
		{
			Name: "O6_one_notification_per_match",
			SQL: `SELECT x.id, COUNT(o.id) FROM matches x
                  LEFT JOIN outbox o ON o.topic = 'match.created' AND o.payload->>'match_id' = x.id::text
                  GROUP BY x.id HAVING COUNT(o.id) <> 1`,
		},
		{
			Name: "O7_self_match",
			SQL:  `SELECT id FROM matches WHERE supplier_id = requester_id OR initiator_id NOT IN (supplier_id, requester_id)`,
		},
	}
}

// Run executes all oracles and returns the first failure (name and sample row text) or empty name if all pass.
func Run(ctx context.Context, pool *pgxpool.Pool) (string, string, error) {
	for _, o := range All() {
		rows, err := pool.Query(ctx, o.SQL)
		if err != nil {
			return o.Name, "", fmt.Errorf("oracle %s: %w", o.Name, err)
		}
		has := rows.Next()
		if has {
			vals, err := rows.Values()
			rows.Close()
			if err != nil {
				return o.Name, "", err
			}
			return o.Name, fmt.Sprintf("%v", vals), nil
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return o.Name, "", fmt.Errorf("oracle %s: %w", o.Name, err)
		}
	}
	return "", "", nil
}
