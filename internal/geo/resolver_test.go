package geo

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/grantwell/ingest-cli/internal/model"
)

func newTestResolver(t *testing.T) *Resolver {
	t.Helper()
	r, err := NewResolver()
	require.NoError(t, err)
	return r
}

func TestParseLocations(t *testing.T) {
	t.Parallel()

	r := newTestResolver(t)

	tests := []struct {
		name      string
		locations []string
		want      []string
	}{
		{"code", []string{"CA"}, []string{"CA"}},
		{"full name", []string{"California"}, []string{"CA"}},
		{"nickname", []string{"Golden State"}, []string{"CA"}},
		{
			"aliases collapse to one code",
			[]string{"California", "CA", "Golden State"},
			[]string{"CA"},
		},
		{
			"region expands",
			[]string{"New England"},
			[]string{"CT", "MA", "ME", "NH", "RI", "VT"},
		},
		{
			"mixed states and regions deduplicated",
			[]string{"New England", "Maine", "NY"},
			[]string{"CT", "MA", "ME", "NH", "NY", "RI", "VT"},
		},
		{"case and punctuation insensitive", []string{"  new-england. "}, []string{"CT", "MA", "ME", "NH", "RI", "VT"}},
		{"unrecognized skipped", []string{"Atlantis", "Oregon"}, []string{"OR"}},
		{"all unrecognized", []string{"Atlantis", "Narnia"}, nil},
		{"empty input", nil, nil},
		{"no substring matching", []string{"Southern California"}, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, r.ParseLocations(tt.locations))
		})
	}
}

func TestStateCodesNationalShortCircuit(t *testing.T) {
	t.Parallel()

	r := newTestResolver(t)

	opp := &model.Opportunity{
		IsNational:        true,
		EligibleLocations: []string{"California", "Texas"},
	}
	assert.Nil(t, r.StateCodes(opp))

	opp.IsNational = false
	assert.Equal(t, []string{"CA", "TX"}, r.StateCodes(opp))
}

// storeStub panics on every store method the resolver never touches.
type storeStub struct{}

func (storeStub) InsertOpportunity(context.Context, *model.Opportunity) error {
	panic("unexpected call")
}

func (storeStub) UpsertOpportunity(context.Context, *model.Opportunity) (bool, error) {
	panic("unexpected call")
}

func (storeStub) UpdateOpportunity(context.Context, *model.Opportunity) error {
	panic("unexpected call")
}

func (storeStub) GetOpportunityByNaturalKey(context.Context, model.NaturalKey) (*model.Opportunity, error) {
	panic("unexpected call")
}

func (storeStub) GetOpportunityByID(context.Context, string) (*model.Opportunity, error) {
	panic("unexpected call")
}

func (storeStub) GetFundingSource(context.Context, string, string) (*model.FundingSource, error) {
	panic("unexpected call")
}

func (storeStub) CreateFundingSource(context.Context, *model.FundingSource) error {
	panic("unexpected call")
}

func (storeStub) Ping(context.Context) error    { panic("unexpected call") }
func (storeStub) Migrate(context.Context) error { panic("unexpected call") }
func (storeStub) Close() error                  { panic("unexpected call") }

// mockStore implements the store methods the resolver touches.
type mockStore struct {
	mock.Mock
	storeStub
}

func (m *mockStore) GetStatesByCodes(ctx context.Context, codes []string) ([]model.State, error) {
	args := m.Called(ctx, codes)
	states, _ := args.Get(0).([]model.State)
	return states, args.Error(1)
}

func (m *mockStore) InsertEligibility(ctx context.Context, opportunityID string, stateIDs []int64) error {
	return m.Called(ctx, opportunityID, stateIDs).Error(0)
}

func (m *mockStore) DeleteEligibility(ctx context.Context, opportunityID string) error {
	return m.Called(ctx, opportunityID).Error(0)
}

func (m *mockStore) CountEligibility(ctx context.Context, opportunityID string) (int, error) {
	args := m.Called(ctx, opportunityID)
	return args.Int(0), args.Error(1)
}

func TestCreateEligibility(t *testing.T) {
	t.Parallel()

	r := newTestResolver(t)
	ctx := context.Background()

	t.Run("writes junction rows", func(t *testing.T) {
		t.Parallel()

		st := new(mockStore)
		st.On("GetStatesByCodes", ctx, []string{"CA", "OR"}).Return([]model.State{
			{ID: 5, Code: "CA", Name: "California"},
			{ID: 37, Code: "OR", Name: "Oregon"},
		}, nil)
		st.On("InsertEligibility", ctx, "opp-1", []int64{5, 37}).Return(nil)

		require.NoError(t, r.CreateEligibility(ctx, "opp-1", []string{"CA", "OR"}, st))
		st.AssertExpectations(t)
	})

	t.Run("zero codes writes nothing", func(t *testing.T) {
		t.Parallel()

		st := new(mockStore)
		require.NoError(t, r.CreateEligibility(ctx, "opp-1", nil, st))
		st.AssertNotCalled(t, "InsertEligibility", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("zero resolved rows is not an error", func(t *testing.T) {
		t.Parallel()

		st := new(mockStore)
		st.On("GetStatesByCodes", ctx, []string{"ZZ"}).Return([]model.State(nil), nil)

		require.NoError(t, r.CreateEligibility(ctx, "opp-1", []string{"ZZ"}, st))
		st.AssertNotCalled(t, "InsertEligibility", mock.Anything, mock.Anything, mock.Anything)
	})
}

func TestUpdateEligibilityClearsFirst(t *testing.T) {
	t.Parallel()

	r := newTestResolver(t)
	ctx := context.Background()

	st := new(mockStore)
	st.On("DeleteEligibility", ctx, "opp-1").Return(nil)
	st.On("GetStatesByCodes", ctx, []string{"TX"}).Return([]model.State{
		{ID: 43, Code: "TX", Name: "Texas"},
	}, nil)
	st.On("InsertEligibility", ctx, "opp-1", []int64{43}).Return(nil)

	opp := &model.Opportunity{EligibleLocations: []string{"Texas"}}
	require.NoError(t, r.UpdateEligibility(ctx, "opp-1", opp, st))
	st.AssertExpectations(t)
}

func TestValidateEligibility(t *testing.T) {
	t.Parallel()

	r := newTestResolver(t)
	ctx := context.Background()

	tests := []struct {
		name       string
		isNational bool
		rows       int
		valid      bool
	}{
		{"national with zero rows", true, 0, true},
		{"national with rows", true, 3, false},
		{"non-national with rows", false, 2, true},
		{"non-national without rows", false, 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			st := new(mockStore)
			st.On("CountEligibility", ctx, "opp-1").Return(tt.rows, nil)

			result, err := r.ValidateEligibility(ctx, "opp-1", tt.isNational, st)
			require.NoError(t, err)
			assert.Equal(t, tt.valid, result.IsValid)
			if !tt.valid {
				assert.NotEmpty(t, result.Error)
			}
		})
	}
}
