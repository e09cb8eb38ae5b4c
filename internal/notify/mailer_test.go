package notify

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"coachpay/internal/repository"
)

func TestOutboxMailer(t *testing.T) {
	store := repository.NewMemoryStore()
	m := NewOutboxMailer(store)

	require.NoError(t, m.Send(context.Background(), "a@b.co", "welcome", map[string]string{"plan": "p9"}))
	assert.Error(t, m.Send(context.Background(), "", "welcome", nil))

	mail := store.Mail()
	require.Len(t, mail, 1)
	assert.Equal(t, "a@b.co", mail[0].To)
	assert.Equal(t, "welcome", mail[0].Template)
	assert.NotEmpty(t, mail[0].ID)
}
