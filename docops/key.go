package docops

import (
	"fmt"
	"strconv"
	"strings"
)

// DocKey routes a sequenced operation to the pipeline group that
// accumulates every operation for one document.
type DocKey struct {
	TenantID   string
	DocumentID string
}

// encodeDocKey produces a stable, lossless string form: the tenant ID is
// length-prefixed so a tenant or document ID containing the separator
// byte can never cause two distinct keys to collide.
func encodeDocKey(k DocKey) string {
	return fmt.Sprintf("%d:%s:%s", len(k.TenantID), k.TenantID, k.DocumentID)
}

// decodeDocKey inverts encodeDocKey.
func decodeDocKey(s string) DocKey {
	colon := strings.IndexByte(s, ':')
	n, err := strconv.Atoi(s[:colon])
	if err != nil {
		return DocKey{}
	}
	rest := s[colon+1:]
	tenantID := rest[:n]
	documentID := rest[n+1:] // skip the separating ':'
	return DocKey{TenantID: tenantID, DocumentID: documentID}
}

// idleKey is the singleton routing key for non-sequenced traffic. The
// idle pipeline exists purely to let non-persisted traffic advance the
// checkpoint; it is not special-cased anywhere it participates in
// PipelineSet.Recompute identically to primary.
type idleKey struct{}

func encodeIdleKey(idleKey) string  { return "idle" }
func decodeIdleKey(string) idleKey { return idleKey{} }
