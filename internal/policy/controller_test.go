package policy

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xela07ax/medrecord-gateway/internal/domain"
	"github.com/xela07ax/medrecord-gateway/internal/infra"
	"go.uber.org/zap"
)

// stubDecider возвращает заранее заданный ответ и считает вызовы.
type stubDecider struct {
	name   string
	answer domain.Decision
	calls  int
}

func (s *stubDecider) Name() string { return s.name }

func (s *stubDecider) Decide(context.Context, domain.Identity, domain.Action, domain.ResourceRef) domain.Decision {
	s.calls++
	return s.answer
}

var (
	johnSmith   = domain.Identity{ID: "p-1", Name: "John Smith", Email: "john.smith@example.com", Role: domain.RoleSubject}
	drWilliams  = domain.Identity{ID: "d-2", Name: "Dr. Robert Williams", Email: "robert.williams@medrecord.com", Role: domain.RolePractitioner}
	johnsRecord = (&domain.MedicalRecord{ID: "r-1", PatientName: "John Smith", DoctorName: "Dr. Sarah Johnson"}).Ref()
)

func newController(chain ...Decider) (*Controller, *infra.Metrics) {
	m := infra.NewMetrics(prometheus.NewRegistry())
	return NewController(zap.NewNop(), m, chain...), m
}

func TestControllerRemoteAllowShortCircuits(t *testing.T) {
	remote := &stubDecider{name: "pdp", answer: domain.DecisionAllow}
	local := &stubDecider{name: "local", answer: domain.DecisionDeny}
	c, m := newController(remote, local)

	v := c.Decide(context.Background(), drWilliams, domain.ActionUpdate, johnsRecord)

	assert.True(t, v.Allowed())
	assert.Equal(t, "pdp", v.Source)
	assert.Equal(t, 0, local.calls, "local evaluator must not run after remote allow")
	assert.NotEmpty(t, v.ID)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Decisions.WithLabelValues("pdp", "allow")))
}

func TestControllerRemoteAllowOverridesRealEvaluator(t *testing.T) {
	// Практик не назначен на запись, локально update запрещен, но PDP разрешил
	c, _ := newController(&stubDecider{name: "pdp", answer: domain.DecisionAllow}, LocalDecider{})
	assert.True(t, c.Check(context.Background(), drWilliams, domain.ActionUpdate, johnsRecord))
}

func TestControllerRemoteDenyFallsBackToLocalAllow(t *testing.T) {
	remote := &stubDecider{name: "pdp", answer: domain.DecisionDeny}
	c, m := newController(remote, LocalDecider{})

	v := c.Decide(context.Background(), johnSmith, domain.ActionRead, johnsRecord)

	assert.True(t, v.Allowed())
	assert.Equal(t, "local", v.Source)
	require.Len(t, v.Trail, 2)
	assert.Equal(t, Step{Decider: "pdp", Decision: domain.DecisionDeny}, v.Trail[0])
	assert.Equal(t, Step{Decider: "local", Decision: domain.DecisionAllow}, v.Trail[1])
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Decisions.WithLabelValues("local", "allow")))
}

func TestControllerIndeterminateAndLocalDenyIsDeny(t *testing.T) {
	remote := &stubDecider{name: "pdp", answer: domain.DecisionIndeterminate}
	c, m := newController(remote, LocalDecider{})

	v := c.Decide(context.Background(), johnSmith, domain.ActionDelete, johnsRecord)

	assert.False(t, v.Allowed())
	assert.Equal(t, domain.DecisionDeny, v.Decision)
	assert.Equal(t, "local", v.Source)
	assert.Equal(t, 1, remote.calls)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Decisions.WithLabelValues("local", "deny")))
}

func TestControllerIndeterminateAndLocalAllow(t *testing.T) {
	c, _ := newController(&stubDecider{name: "pdp", answer: domain.DecisionIndeterminate}, LocalDecider{})
	assert.True(t, c.Check(context.Background(), johnSmith, domain.ActionRead, johnsRecord))
}

func TestControllerNoDefiniteAnswerIsDeny(t *testing.T) {
	c, m := newController(&stubDecider{name: "pdp", answer: domain.DecisionIndeterminate})

	v := c.Decide(context.Background(), johnSmith, domain.ActionRead, johnsRecord)

	assert.Equal(t, domain.DecisionDeny, v.Decision)
	assert.Equal(t, SourceNone, v.Source)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Decisions.WithLabelValues(SourceNone, "deny")))

	empty, _ := newController()
	assert.False(t, empty.Check(context.Background(), johnSmith, domain.ActionRead, johnsRecord))
}

func TestControllerRecomputesEveryCall(t *testing.T) {
	remote := &stubDecider{name: "pdp", answer: domain.DecisionAllow}
	c, _ := newController(remote, LocalDecider{})

	assert.True(t, c.Check(context.Background(), drWilliams, domain.ActionUpdate, johnsRecord))
	remote.answer = domain.DecisionIndeterminate
	assert.False(t, c.Check(context.Background(), drWilliams, domain.ActionUpdate, johnsRecord))
	assert.Equal(t, 2, remote.calls)
}

func TestControllerDecisionIDsAreUnique(t *testing.T) {
	c, _ := newController(LocalDecider{})
	a := c.Decide(context.Background(), johnSmith, domain.ActionRead, johnsRecord)
	b := c.Decide(context.Background(), johnSmith, domain.ActionRead, johnsRecord)
	assert.NotEqual(t, a.ID, b.ID)
}

func TestDecisionIDsAreMonotonic(t *testing.T) {
	prev := newDecisionID()
	for i := 0; i < 1000; i++ {
		next := newDecisionID()
		require.Less(t, prev, next)
		prev = next
	}
}
