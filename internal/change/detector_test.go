package change

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/grantwell/ingest-cli/internal/model"
)

func fptr(f float64) *float64 { return &f }

func tptr(t time.Time) *time.Time { return &t }

func baseOpportunity() model.Opportunity {
	return model.Opportunity{
		Title:       "Rural Broadband Expansion Grant",
		Description: "Funding for broadband infrastructure projects serving rural communities with limited connectivity options",
		FundingType: "grant",
		Status:      "open",
		AmountMin:   fptr(50000),
		AmountMax:   fptr(500000),
		OpenDate:    tptr(time.Date(2026, 1, 15, 0, 0, 0, 0, time.UTC)),
		CloseDate:   tptr(time.Date(2026, 6, 30, 0, 0, 0, 0, time.UTC)),
	}
}

func TestIsMaterialIdentical(t *testing.T) {
	t.Parallel()

	existing := baseOpportunity()
	incoming := baseOpportunity()

	assert.False(t, IsMaterial(&existing, &incoming))
}

func TestMoneyThreshold(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		from     *float64
		to       *float64
		material bool
	}{
		{"identical", fptr(100000), fptr(100000), false},
		{"within threshold", fptr(100000), fptr(104000), false},
		{"exactly at threshold", fptr(100000), fptr(105000), false},
		{"above threshold", fptr(100000), fptr(106000), true},
		{"decrease above threshold", fptr(100000), fptr(90000), true},
		{"null to non-null", nil, fptr(100000), true},
		{"non-null to null", fptr(100000), nil, true},
		{"both null", nil, nil, false},
		{"both zero", fptr(0), fptr(0), false},
		{"zero to non-zero", fptr(0), fptr(1000), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			existing := baseOpportunity()
			incoming := baseOpportunity()
			existing.AmountMax = tt.from
			incoming.AmountMax = tt.to

			changes := Describe(&existing, &incoming)
			_, changed := changes["amount_max"]
			assert.Equal(t, tt.material, changed)
		})
	}
}

func TestDateDayGranularity(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		from     *time.Time
		to       *time.Time
		material bool
	}{
		{
			"same day different time",
			tptr(time.Date(2026, 6, 30, 9, 0, 0, 0, time.UTC)),
			tptr(time.Date(2026, 6, 30, 17, 30, 0, 0, time.UTC)),
			false,
		},
		{
			"next day",
			tptr(time.Date(2026, 6, 30, 0, 0, 0, 0, time.UTC)),
			tptr(time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC)),
			true,
		},
		{
			"null to non-null",
			nil,
			tptr(time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC)),
			true,
		},
		{"both null", nil, nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			existing := baseOpportunity()
			incoming := baseOpportunity()
			existing.CloseDate = tt.from
			incoming.CloseDate = tt.to

			changes := Describe(&existing, &incoming)
			_, changed := changes["close_date"]
			assert.Equal(t, tt.material, changed)
		})
	}
}

func TestStatusCaseInsensitive(t *testing.T) {
	t.Parallel()

	existing := baseOpportunity()
	incoming := baseOpportunity()
	incoming.Status = "  OPEN  "

	assert.False(t, IsMaterial(&existing, &incoming))

	incoming.Status = "closed"
	changes := Describe(&existing, &incoming)
	assert.Contains(t, changes, "status")
	assert.Equal(t, "open", changes["status"].From)
	assert.Equal(t, "closed", changes["status"].To)
}

func TestDescriptionSimilarity(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		from     string
		to       string
		material bool
	}{
		{
			"punctuation and case only",
			"Funding for broadband infrastructure, projects serving rural communities.",
			"funding for broadband infrastructure projects serving rural communities",
			false,
		},
		{
			"one word swapped of many",
			"solar energy development grants available across rural communities nationwide program",
			"solar energy development grants available across rural communities nationwide initiative",
			false,
		},
		{
			"completely rewritten",
			"Funding for broadband infrastructure projects",
			"Scholarships supporting graduate students in marine biology",
			true,
		},
		{
			"empty to non-empty",
			"",
			"Funding for broadband infrastructure projects",
			true,
		},
		{"both empty", "", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			existing := baseOpportunity()
			incoming := baseOpportunity()
			existing.Description = tt.from
			incoming.Description = tt.to

			changes := Describe(&existing, &incoming)
			_, changed := changes["description"]
			assert.Equal(t, tt.material, changed)
		})
	}
}

func TestDescribeMultipleFields(t *testing.T) {
	t.Parallel()

	existing := baseOpportunity()
	incoming := baseOpportunity()
	incoming.Status = "closed"
	incoming.AmountMax = fptr(1000000)

	changes := Describe(&existing, &incoming)
	assert.Len(t, changes, 2)
	assert.Contains(t, changes, "status")
	assert.Contains(t, changes, "amount_max")
	assert.Equal(t, "500000.00", changes["amount_max"].From)
	assert.Equal(t, "1000000.00", changes["amount_max"].To)
}
