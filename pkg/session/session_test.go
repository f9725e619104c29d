package session

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	srcToken = "secret_abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123"
	dstToken = "secret_0123abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ"
	srcID    = "1a2b3c4d5e6f47188899aabbccddeeff"
	dstID    = "ffeeddcc-bbaa-4998-8817-f6e5d4c3b2a1"
)

func TestSessionCollectsInputs(t *testing.T) {
	s := New()
	require.NotEmpty(t, s.ID)
	assert.Equal(t, StateAwaitSourceToken, s.State())
	assert.Contains(t, s.Greeting(), PromptSourceToken)

	assert.Equal(t, PromptDestToken, s.Handle(srcToken).Text)
	assert.Equal(t, PromptSourceDB, s.Handle(dstToken).Text)
	assert.Equal(t, PromptDestDB, s.Handle("https://www.notion.so/acme/Tasks-"+srcID+"?v=00000000000000000000000000000000").Text)

	reply := s.Handle(dstID)
	assert.Contains(t, reply.Text, "yes/no")
	assert.False(t, reply.Start)
	assert.Equal(t, StateReady, s.State())

	reply = s.Handle("YES")
	assert.True(t, reply.Start)
	assert.Equal(t, StateRunning, s.State())

	p := s.Params()
	assert.Equal(t, srcToken, p.SourceToken)
	assert.Equal(t, dstToken, p.DestinationToken)
	assert.Equal(t, "1a2b3c4d-5e6f-4718-8899-aabbccddeeff", p.SourceDatabaseID)
	assert.Equal(t, dstID, p.DestinationDatabaseID)

	assert.Contains(t, s.Handle(CommandCancel).Text, "running")
	assert.Equal(t, StateRunning, s.State())

	s.Finish()
	assert.True(t, s.Closed())
	assert.Contains(t, s.Handle("hello").Text, CommandStart)
}

func TestSessionWarnsOnOddToken(t *testing.T) {
	s := New()
	reply := s.Handle("not-a-token")
	assert.Contains(t, reply.Text, "does not look like")
	assert.Contains(t, reply.Text, PromptDestToken)
	assert.Equal(t, StateAwaitDestToken, s.State())
}

func TestSessionRepromptsOnBadDatabaseID(t *testing.T) {
	s := New()
	s.Handle(srcToken)
	s.Handle(dstToken)

	reply := s.Handle("my database")
	assert.Contains(t, reply.Text, "does not contain a database id")
	assert.Equal(t, StateAwaitSourceDB, s.State())
}

func TestSessionRejectsSameDatabase(t *testing.T) {
	s := New()
	s.Handle(srcToken)
	s.Handle(srcToken)
	s.Handle(srcID)

	reply := s.Handle(srcID)
	assert.Contains(t, reply.Text, "must differ")
	assert.Equal(t, StateAwaitDestDB, s.State())
}

func TestSessionCancel(t *testing.T) {
	s := New()
	s.Handle(srcToken)
	reply := s.Handle(" /cancel ")
	assert.Contains(t, reply.Text, "Cancelled")
	assert.Equal(t, StateCancelled, s.State())
	assert.True(t, s.Closed())

	s = New()
	s.Handle(srcToken)
	s.Handle(dstToken)
	s.Handle(srcID)
	s.Handle(dstID)
	assert.Contains(t, s.Handle("maybe").Text, "yes or no")
	assert.False(t, s.Handle("no").Start)
	assert.Equal(t, StateCancelled, s.State())
}

func TestParseDatabaseID(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    string
		wantErr bool
	}{
		{name: "bare", input: srcID, want: "1a2b3c4d-5e6f-4718-8899-aabbccddeeff"},
		{name: "dashed", input: dstID, want: dstID},
		{name: "upper case", input: "1A2B3C4D5E6F47188899AABBCCDDEEFF", want: "1a2b3c4d-5e6f-4718-8899-aabbccddeeff"},
		{name: "link with view", input: "https://www.notion.so/acme/" + srcID + "?v=" + "ffeeddccbbaa49988817f6e5d4c3b2a1", want: "1a2b3c4d-5e6f-4718-8899-aabbccddeeff"},
		{name: "titled link", input: "https://notion.so/Reading-List-" + srcID, want: "1a2b3c4d-5e6f-4718-8899-aabbccddeeff"},
		{name: "no id", input: "reading list", wantErr: true},
		{name: "empty", input: "", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseDatabaseID(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestManager(t *testing.T) {
	m := NewManager(10, time.Hour, zerolog.Nop())
	s := m.Start()
	assert.Equal(t, 1, m.Len())

	got, ok := m.Get(s.ID)
	require.True(t, ok)
	assert.Same(t, s, got)

	m.End(s.ID)
	_, ok = m.Get(s.ID)
	assert.False(t, ok)
	assert.Equal(t, 0, m.Len())
}

func TestManagerExpiresIdleSessions(t *testing.T) {
	m := NewManager(10, 20*time.Millisecond, zerolog.Nop())
	s := m.Start()

	assert.Eventually(t, func() bool {
		_, ok := m.Get(s.ID)
		return !ok
	}, time.Second, 5*time.Millisecond)
}

func TestManagerEvictsOldestWhenFull(t *testing.T) {
	m := NewManager(2, time.Hour, zerolog.Nop())
	first := m.Start()
	m.Start()
	m.Start()

	assert.Equal(t, 2, m.Len())
	_, ok := m.Get(first.ID)
	assert.False(t, ok)
}

func TestManagerGetKeepsActiveSessionsAlive(t *testing.T) {
	m := NewManager(10, 200*time.Millisecond, zerolog.Nop())
	s := m.Start()

	for i := 0; i < 5; i++ {
		time.Sleep(80 * time.Millisecond)
		_, ok := m.Get(s.ID)
		require.True(t, ok, "round %d", i)
	}
}
