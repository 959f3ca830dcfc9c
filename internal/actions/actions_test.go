package actions

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fcaptcha/sentinel/internal/policy"
	"github.com/fcaptcha/sentinel/internal/rules"
)

func newTestExecutor() *Executor {
	return NewExecutorWithClock("test-secret", time.Now)
}

func TestAllowAndBlock(t *testing.T) {
	e := newTestExecutor()
	p := policy.Default()

	out := e.Execute("s1", rules.Allow, p, false)
	assert.True(t, out.Passed)
	assert.Nil(t, out.Challenge)

	out = e.Execute("s1", rules.Block, p, false)
	assert.True(t, out.Blocked)
	assert.False(t, out.Passed)
}

func TestSoftAlwaysPasses(t *testing.T) {
	e := newTestExecutor()
	p := policy.Default()
	p.SoftActions = []string{"pow", "attest", "jitter"}

	out := e.Execute("s1", rules.Soft, p, false)
	assert.True(t, out.Passed)
	assert.ElementsMatch(t, []string{"pow", "attest", "jitter"}, out.SoftTasks)
	assert.GreaterOrEqual(t, out.RetryJitterMs, 50)
	assert.Less(t, out.RetryJitterMs, 250)
}

func TestChallengeRoundTrip(t *testing.T) {
	e := newTestExecutor()
	out := e.Execute("s1", rules.Challenge, policy.Default(), false)

	require.NotNil(t, out.Challenge)
	c := out.Challenge
	assert.Equal(t, KindIndicator, c.Kind)
	assert.Equal(t, toleranceSoft, c.Tolerance)
	assert.NotEmpty(t, c.Sig)

	res := e.Verify("s1", c.ID, c.Target, c.Sig)
	assert.True(t, res.Valid)

	// Single use.
	res = e.Verify("s1", c.ID, c.Target, c.Sig)
	assert.False(t, res.Valid)
	assert.Equal(t, "challenge_not_found", res.Reason)
}

func TestHardChallengeNarrowerTolerance(t *testing.T) {
	e := newTestExecutor()
	out := e.Execute("s1", rules.HardChallenge, policy.Default(), false)

	require.NotNil(t, out.Challenge)
	assert.Equal(t, toleranceHard, out.Challenge.Tolerance)
	assert.Less(t, out.Challenge.Tolerance, toleranceSoft)

	// Just outside the hard window fails.
	res := e.Verify("s1", out.Challenge.ID, out.Challenge.Target+toleranceHard+0.001, out.Challenge.Sig)
	assert.False(t, res.Valid)
	assert.Equal(t, "target_missed", res.Reason)
}

func TestIndicatorMissConsumesChallenge(t *testing.T) {
	e := newTestExecutor()
	out := e.Execute("s1", rules.Challenge, policy.Default(), false)

	e.Verify("s1", out.Challenge.ID, out.Challenge.Target+1, out.Challenge.Sig)
	res := e.Verify("s1", out.Challenge.ID, out.Challenge.Target, out.Challenge.Sig)
	assert.Equal(t, "challenge_not_found", res.Reason)
}

func TestVerifyRejectsTamperedSignature(t *testing.T) {
	e := newTestExecutor()
	out := e.Execute("s1", rules.Challenge, policy.Default(), false)
	require.NotNil(t, out.Challenge)

	// A correct value with a forged signature never passes, and the
	// indicator is consumed.
	res := e.Verify("s1", out.Challenge.ID, out.Challenge.Target, "0000000000000000")
	assert.False(t, res.Valid)
	assert.Equal(t, "invalid_signature", res.Reason)

	res = e.Verify("s1", out.Challenge.ID, out.Challenge.Target, out.Challenge.Sig)
	assert.Equal(t, "challenge_not_found", res.Reason)
}

func TestBunkerGateSurvivesTamperedSignature(t *testing.T) {
	e := newTestExecutor()
	p := policy.Default()
	p.BunkerPolicy.Enabled = true

	out := e.Execute("s1", rules.Bunker, p, false)
	require.NotNil(t, out.Challenge)

	res := e.Verify("s1", out.Challenge.ID, out.Challenge.Target, "forged")
	assert.False(t, res.Valid)
	assert.Equal(t, "invalid_signature", res.Reason)

	// The gate is still answerable with the real signature.
	res = e.Verify("s1", out.Challenge.ID, out.Challenge.Target, out.Challenge.Sig)
	assert.True(t, res.Valid)
}

func TestChallengeKindFollowsPolicyList(t *testing.T) {
	e := newTestExecutor()

	p := policy.Default()
	p.ChallengeActions = []string{"slider", "indicator"}
	out := e.Execute("s1", rules.Challenge, p, false)
	require.NotNil(t, out.Challenge)
	assert.Equal(t, KindIndicator, out.Challenge.Kind, "unrenderable kinds are skipped")

	// A list with no renderable kind still gates the session.
	p.ChallengeActions = []string{"slider"}
	out = e.Execute("s2", rules.HardChallenge, p, false)
	require.NotNil(t, out.Challenge)
	assert.Equal(t, KindIndicator, out.Challenge.Kind)
	assert.Equal(t, toleranceHard, out.Challenge.Tolerance)
}

func TestBunkerGateRetriesIndefinitely(t *testing.T) {
	e := newTestExecutor()
	p := policy.Default()
	p.BunkerPolicy.Enabled = true

	out := e.Execute("s1", rules.Bunker, p, false)
	require.NotNil(t, out.Challenge)
	assert.Equal(t, KindBunker, out.Challenge.Kind)

	// Wrong answers do not consume the gate.
	for i := 0; i < 3; i++ {
		res := e.Verify("s1", out.Challenge.ID, out.Challenge.Target+1, out.Challenge.Sig)
		assert.False(t, res.Valid)
		assert.Equal(t, "target_missed", res.Reason)
	}

	res := e.Verify("s1", out.Challenge.ID, out.Challenge.Target, out.Challenge.Sig)
	assert.True(t, res.Valid)
	assert.Equal(t, KindBunker, res.Kind)
}

func TestBunkerPassSkipsGate(t *testing.T) {
	e := newTestExecutor()
	p := policy.Default()
	p.BunkerPolicy.Enabled = true

	out := e.Execute("s1", rules.Bunker, p, true)
	assert.True(t, out.Passed)
	assert.Nil(t, out.Challenge)
}

func TestIssueBunkerPassHonorsTTL(t *testing.T) {
	base := time.Now()
	e := NewExecutorWithClock("test-secret", func() time.Time { return base })
	p := policy.Default()
	p.BunkerPolicy.TTLSeconds = 900

	tok, expires := e.IssueBunkerPass(p)
	assert.NotEmpty(t, tok)
	assert.Equal(t, base.Add(15*time.Minute).Unix(), expires.Unix())
}

func TestExpiredChallenge(t *testing.T) {
	clock := time.Now()
	e := NewExecutorWithClock("test-secret", func() time.Time { return clock })

	out := e.Execute("s1", rules.Challenge, policy.Default(), false)
	clock = clock.Add(3 * time.Minute)

	res := e.Verify("s1", out.Challenge.ID, out.Challenge.Target, out.Challenge.Sig)
	assert.False(t, res.Valid)
	assert.Equal(t, "challenge_expired", res.Reason)
}

func TestChallengeIsSessionScoped(t *testing.T) {
	e := newTestExecutor()
	out := e.Execute("s1", rules.Challenge, policy.Default(), false)

	res := e.Verify("other-session", out.Challenge.ID, out.Challenge.Target, out.Challenge.Sig)
	assert.False(t, res.Valid)
	assert.Equal(t, "challenge_not_found", res.Reason)
}

func TestTargetStaysInsideAxis(t *testing.T) {
	for i := 0; i < 100; i++ {
		v := randTarget()
		assert.GreaterOrEqual(t, v, 0.1)
		assert.LessOrEqual(t, v, 0.9)
	}
}
