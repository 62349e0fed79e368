package gatherer

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/adminpilot/control-plane/pkg/models"
)

// Snapshot is the transient aggregate grounding one reply. It is never
// persisted or shared between requests.
type Snapshot struct {
	Context     models.RequestContext `json:"context"`
	GeneratedAt time.Time             `json:"generated_at"`
	Sections    map[string]any        `json:"sections"`
	Failures    map[string]string     `json:"failures,omitempty"`
}

// Render formats the snapshot as the prompt block handed to the model.
// Sections appear in name order so identical state renders identically.
func (s *Snapshot) Render() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Live business data (%s, as of %s):\n", s.Context, s.GeneratedAt.Format(time.RFC3339))

	names := make([]string, 0, len(s.Sections))
	for name := range s.Sections {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		raw, err := json.Marshal(s.Sections[name])
		if err != nil {
			continue
		}
		fmt.Fprintf(&b, "\n[%s]\n%s\n", name, raw)
	}

	if len(s.Failures) > 0 {
		failed := make([]string, 0, len(s.Failures))
		for name, reason := range s.Failures {
			failed = append(failed, name+" ("+reason+")")
		}
		sort.Strings(failed)
		fmt.Fprintf(&b, "\nUnavailable right now: %s. Do not guess these numbers.\n", strings.Join(failed, ", "))
	}
	return b.String()
}
