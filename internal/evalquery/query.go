package evalquery

import (
	"fmt"
	"strings"
	"time"
)

// TraceQuery describes one incremental pull of scored traces.
type TraceQuery struct {
	Project      string
	DeploymentID string
	Version      string
	After        time.Time
}

// SQL renders the backend query. String values are escaped, not
// interpolated raw, so a hostile deployment name cannot break out of its
// literal.
func (q TraceQuery) SQL() string {
	return fmt.Sprintf(
		`SELECT id, scores, metadata, created, error
FROM project_logs('%s', shape => 'traces')
WHERE metadata."braincanary.deployment_id" = '%s'
  AND metadata."braincanary.version" = '%s'
  AND created > '%s'
ORDER BY created ASC`,
		escapeLiteral(q.Project),
		escapeLiteral(q.DeploymentID),
		escapeLiteral(q.Version),
		q.After.UTC().Format(time.RFC3339Nano),
	)
}

func escapeLiteral(s string) string {
	return strings.ReplaceAll(s, "'", "''")
}
