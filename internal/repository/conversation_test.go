package repository

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kolayne/anonymous-helpline-chatbot/internal/models"
)

func TestCheckPairingInvariants(t *testing.T) {
	client := &models.User{LocalID: 1, TgID: 200}
	operatorClient := &models.User{LocalID: 1, TgID: 200, IsOperator: true}
	operator := &models.User{LocalID: 2, TgID: 100, IsOperator: true}
	nonOperator := &models.User{LocalID: 3, TgID: 300}

	tests := []struct {
		name     string
		client   *models.User
		operator *models.User
		state    pairingState
		want     Constraint
	}{
		{
			name:     "valid pairing",
			client:   client,
			operator: operator,
			want:     "",
		},
		{
			name:     "self pairing",
			client:   operator,
			operator: operator,
			want:     ConstraintSelfPairing,
		},
		{
			name:     "operator flag missing",
			client:   client,
			operator: nonOperator,
			want:     ConstraintNotAnOperator,
		},
		{
			name:     "client already paired",
			client:   client,
			operator: operator,
			state:    pairingState{ClientPaired: true},
			want:     ConstraintClientPaired,
		},
		{
			name:     "client paired wins over operator paired",
			client:   client,
			operator: operator,
			state:    pairingState{ClientPaired: true, OperatorPaired: true},
			want:     ConstraintClientPaired,
		},
		{
			name:     "operator is crying elsewhere",
			client:   client,
			operator: operator,
			state:    pairingState{OperatorCrying: true},
			want:     ConstraintOperatorCrying,
		},
		{
			name:     "operator already paired",
			client:   client,
			operator: operator,
			state:    pairingState{OperatorPaired: true},
			want:     ConstraintOperatorPaired,
		},
		{
			name:     "client is an operator currently operating",
			client:   operatorClient,
			operator: operator,
			state:    pairingState{ClientOperating: true},
			want:     ConstraintClientOperating,
		},
		{
			name:     "idle operator may cry",
			client:   operatorClient,
			operator: operator,
			want:     "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			violation := checkPairingInvariants(tt.client, tt.operator, tt.state)
			if tt.want == "" {
				assert.Nil(t, violation)
				return
			}
			require.NotNil(t, violation)
			assert.Equal(t, tt.want, violation.Constraint)
		})
	}
}

func TestConversationLifecycle(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	users := NewUserRepository(db, testLogger())
	convs := NewConversationRepository(db, testLogger())

	// User 100 registers, flagged operator. User 200 registers, default flags.
	_, err := users.RegisterOrGet(ctx, 100)
	require.NoError(t, err)
	require.NoError(t, users.SetOperator(ctx, 100, true))
	_, err = users.RegisterOrGet(ctx, 200)
	require.NoError(t, err)

	conv, err := convs.Start(ctx, 200, 100)
	require.NoError(t, err)
	require.NotZero(t, conv.ID)

	// Both sides resolve each other.
	partner, err := convs.FindCounterpart(ctx, 200)
	require.NoError(t, err)
	require.NotNil(t, partner)
	assert.EqualValues(t, 100, partner.TgID)

	partner, err = convs.FindCounterpart(ctx, 100)
	require.NoError(t, err)
	require.NotNil(t, partner)
	assert.EqualValues(t, 200, partner.TgID)

	operating, err := users.IsOperating(ctx, 100)
	require.NoError(t, err)
	assert.True(t, operating)
	crying, err := users.IsCrying(ctx, 200)
	require.NoError(t, err)
	assert.True(t, crying)

	// A second start for the same client is rejected by name.
	_, err = convs.Start(ctx, 200, 100)
	var violation *InvariantViolationError
	require.ErrorAs(t, err, &violation)
	assert.Equal(t, ConstraintClientPaired, violation.Constraint)

	// Ending succeeds once; the retry reports ErrNotFound.
	require.NoError(t, convs.EndByClient(ctx, 200))
	assert.ErrorIs(t, convs.EndByClient(ctx, 200), ErrNotFound)

	// No residual state: the counterpart is gone and a new pairing works.
	partner, err = convs.FindCounterpart(ctx, 200)
	require.NoError(t, err)
	assert.Nil(t, partner)

	_, err = convs.Start(ctx, 200, 100)
	require.NoError(t, err)
	require.NoError(t, convs.EndByOperator(ctx, 100))
}

func TestStartRejections(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	users := NewUserRepository(db, testLogger())
	convs := NewConversationRepository(db, testLogger())

	for _, tgID := range []int64{100, 101, 200, 201} {
		_, err := users.RegisterOrGet(ctx, tgID)
		require.NoError(t, err)
	}
	require.NoError(t, users.SetOperator(ctx, 100, true))
	require.NoError(t, users.SetOperator(ctx, 101, true))

	assertViolation := func(t *testing.T, err error, want Constraint) {
		t.Helper()
		var violation *InvariantViolationError
		require.ErrorAs(t, err, &violation)
		assert.Equal(t, want, violation.Constraint)
	}

	t.Run("unknown users", func(t *testing.T) {
		_, err := convs.Start(ctx, 999, 100)
		assert.ErrorIs(t, err, ErrNotFound)
		_, err = convs.Start(ctx, 200, 999)
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("operator flag required", func(t *testing.T) {
		_, err := convs.Start(ctx, 200, 201)
		assertViolation(t, err, ConstraintNotAnOperator)
	})

	t.Run("self pairing", func(t *testing.T) {
		_, err := convs.Start(ctx, 100, 100)
		assertViolation(t, err, ConstraintSelfPairing)
	})

	t.Run("operator already paired", func(t *testing.T) {
		_, err := convs.Start(ctx, 200, 100)
		require.NoError(t, err)
		defer func() { require.NoError(t, convs.EndByClient(ctx, 200)) }()

		_, err = convs.Start(ctx, 201, 100)
		assertViolation(t, err, ConstraintOperatorPaired)
	})

	t.Run("crying operator cannot operate", func(t *testing.T) {
		// Operator 101 becomes a client of operator 100.
		_, err := convs.Start(ctx, 101, 100)
		require.NoError(t, err)
		defer func() { require.NoError(t, convs.EndByClient(ctx, 101)) }()

		_, err = convs.Start(ctx, 200, 101)
		assertViolation(t, err, ConstraintOperatorCrying)
	})

	t.Run("operating operator cannot cry", func(t *testing.T) {
		// Operator 101 serves client 200.
		_, err := convs.Start(ctx, 200, 101)
		require.NoError(t, err)
		defer func() { require.NoError(t, convs.EndByClient(ctx, 200)) }()

		_, err = convs.Start(ctx, 101, 100)
		assertViolation(t, err, ConstraintClientOperating)
	})
}

func TestStartConcurrentSameOperator(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	users := NewUserRepository(db, testLogger())
	convs := NewConversationRepository(db, testLogger())

	_, err := users.RegisterOrGet(ctx, 100)
	require.NoError(t, err)
	require.NoError(t, users.SetOperator(ctx, 100, true))

	const racers = 8
	for i := int64(0); i < racers; i++ {
		_, err := users.RegisterOrGet(ctx, 200+i)
		require.NoError(t, err)
	}

	errs := make([]error, racers)
	var wg sync.WaitGroup
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = convs.Start(ctx, 200+int64(i), 100)
		}(i)
	}
	wg.Wait()

	// Exactly one racer wins; the rest see a named violation or ErrBusy.
	winners := 0
	for _, err := range errs {
		if err == nil {
			winners++
			continue
		}
		var violation *InvariantViolationError
		if !errors.As(err, &violation) && !errors.Is(err, ErrBusy) {
			t.Fatalf("unexpected loser error: %v", err)
		}
	}
	assert.Equal(t, 1, winners)

	var active int
	require.NoError(t, db.Get(&active, `SELECT COUNT(*) FROM conversations`))
	assert.Equal(t, 1, active)
}

func TestStartWithRandomOperator(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	users := NewUserRepository(db, testLogger())
	convs := NewConversationRepository(db, testLogger())

	_, err := users.RegisterOrGet(ctx, 200)
	require.NoError(t, err)

	t.Run("no operator available", func(t *testing.T) {
		_, _, err := convs.StartWithRandomOperator(ctx, 200)
		assert.ErrorIs(t, err, ErrNoOperatorAvailable)
	})

	_, err = users.RegisterOrGet(ctx, 100)
	require.NoError(t, err)
	require.NoError(t, users.SetOperator(ctx, 100, true))

	t.Run("assigns the only eligible operator", func(t *testing.T) {
		conv, operator, err := convs.StartWithRandomOperator(ctx, 200)
		require.NoError(t, err)
		assert.EqualValues(t, 100, operator.TgID)
		assert.NotZero(t, conv.ID)
	})

	t.Run("busy operators are not eligible", func(t *testing.T) {
		// The only operator now serves 200, so 201 cannot be paired.
		_, err := users.RegisterOrGet(ctx, 201)
		require.NoError(t, err)
		_, _, err = convs.StartWithRandomOperator(ctx, 201)
		assert.ErrorIs(t, err, ErrNoOperatorAvailable)
	})

	t.Run("paired client is rejected", func(t *testing.T) {
		_, _, err := convs.StartWithRandomOperator(ctx, 200)
		var violation *InvariantViolationError
		require.ErrorAs(t, err, &violation)
		assert.Equal(t, ConstraintClientPaired, violation.Constraint)
	})
}

func TestSetOperatorConflicts(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	users := NewUserRepository(db, testLogger())
	convs := NewConversationRepository(db, testLogger())

	_, err := users.RegisterOrGet(ctx, 100)
	require.NoError(t, err)
	require.NoError(t, users.SetOperator(ctx, 100, true))
	_, err = users.RegisterOrGet(ctx, 200)
	require.NoError(t, err)

	_, err = convs.Start(ctx, 200, 100)
	require.NoError(t, err)

	// Demoting a mid-conversation operator must not orphan the pairing.
	err = users.SetOperator(ctx, 100, false)
	var conflict *ConflictingStateError
	require.ErrorAs(t, err, &conflict)

	flagged, err := users.IsOperator(ctx, 100)
	require.NoError(t, err)
	assert.True(t, flagged, "flag must be unchanged after a rejected demotion")

	// After the conversation ends the demotion goes through.
	require.NoError(t, convs.EndByOperator(ctx, 100))
	require.NoError(t, users.SetOperator(ctx, 100, false))

	flagged, err = users.IsOperator(ctx, 100)
	require.NoError(t, err)
	assert.False(t, flagged)
}
