// Package classifier defines the user-classification surface the
// Controller's /check_user endpoint would call, grounded on gpt/main.go's
// Model.check_user. No concrete LLM-backed implementation is wired: the
// default is a no-op that always reports Unknown.
package classifier

import "context"

// Verdict is one of the categories a classification run can report.
type Verdict string

const (
	VerdictUser       Verdict = "USER"
	VerdictKremlinBot Verdict = "KREMLIN_BOT"
	VerdictTrollBot   Verdict = "TROLL_BOT"
	VerdictKadyrovBot Verdict = "KADYROV_BOT"
	VerdictUnknown    Verdict = ""
)

// Sample is the per-user activity summary a classifier reasons over,
// mirroring controllerrpc.Sample's shape without importing that package.
type Sample struct {
	UserID             int64
	Usernames          []string
	Names              []string
	ChannelCounts      map[string]int64
	MostRecentComments []string
	MostOldComments    []string
}

// Classifier reports a verdict for a user's activity sample.
type Classifier interface {
	Classify(ctx context.Context, sample Sample) (Verdict, error)
}

// Noop always reports VerdictUnknown. It is the default classifier: wiring
// a real model call is left to deployment-specific configuration.
type Noop struct{}

// Classify implements Classifier.
func (Noop) Classify(ctx context.Context, sample Sample) (Verdict, error) {
	return VerdictUnknown, nil
}
