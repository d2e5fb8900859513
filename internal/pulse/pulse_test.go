package pulse

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubRemote struct {
	pushed time.Time
	err    error
	calls  int
}

func (s *stubRemote) LastPushed(_ context.Context, _, _ string) (time.Time, error) {
	s.calls++
	return s.pushed, s.err
}

func newTestChecker(remote *stubRemote, threshold float64, now time.Time) *Checker {
	c := NewChecker(remote, threshold)
	c.now = func() time.Time { return now }
	return c
}

func TestCheckClassification(t *testing.T) {
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name      string
		lastPush  time.Time
		daysSince float64
		stagnant  bool
	}{
		{"active yesterday", now.Add(-24 * time.Hour), 1.0, false},
		{"exactly at threshold", now.Add(-72 * time.Hour), 3.0, false},
		{"just past threshold", now.Add(-72*time.Hour - time.Minute), 3.0007, true},
		{"long stagnant", now.Add(-10 * 24 * time.Hour), 10.0, true},
		{"pushed in the future", now.Add(time.Hour), 0.0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			checker := newTestChecker(&stubRemote{pushed: tt.lastPush}, 3.0, now)
			res, err := checker.Check(context.Background(), "owner/repo")
			require.NoError(t, err)
			assert.Equal(t, "owner/repo", res.Ref)
			assert.True(t, res.Remote)
			assert.InDelta(t, tt.daysSince, res.DaysSince, 0.001)
			assert.Equal(t, tt.stagnant, res.Stagnant)
		})
	}
}

func TestCheckRemoteFailure(t *testing.T) {
	underlying := errors.New("repository not found")
	checker := newTestChecker(&stubRemote{err: underlying}, 3.0, time.Now())

	_, err := checker.Check(context.Background(), "owner/gone")
	require.Error(t, err)

	var checkErr *CheckError
	require.ErrorAs(t, err, &checkErr)
	assert.Equal(t, "owner/gone", checkErr.Ref)
	assert.ErrorIs(t, err, underlying)
}

func TestCheckLocalRepository(t *testing.T) {
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	orig := localLastCommit
	defer func() { localLastCommit = orig }()
	localLastCommit = func(string) (time.Time, error) {
		return now.Add(-5 * 24 * time.Hour), nil
	}

	remote := &stubRemote{}
	checker := newTestChecker(remote, 3.0, now)

	res, err := checker.Check(context.Background(), "/tmp/somerepo")
	require.NoError(t, err)
	assert.False(t, res.Remote)
	assert.True(t, res.Stagnant)
	assert.InDelta(t, 5.0, res.DaysSince, 0.001)
	assert.Zero(t, remote.calls)
}

func TestCheckLocalFailure(t *testing.T) {
	orig := localLastCommit
	defer func() { localLastCommit = orig }()
	localLastCommit = func(string) (time.Time, error) {
		return time.Time{}, errors.New("not a git repository")
	}

	checker := newTestChecker(&stubRemote{}, 3.0, time.Now())
	_, err := checker.Check(context.Background(), "/tmp/notarepo")

	var checkErr *CheckError
	require.ErrorAs(t, err, &checkErr)
}

func TestNormalizeRef(t *testing.T) {
	assert.Equal(t, "owner/repo", NormalizeRef("owner/repo"))
	assert.Equal(t, "owner/repo", NormalizeRef("https://github.com/owner/repo"))
	assert.Equal(t, "owner/repo", NormalizeRef("git@github.com:owner/repo.git"))
	assert.Equal(t, "/tmp/work", NormalizeRef("/tmp/work"))
}
