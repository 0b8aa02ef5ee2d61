package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRecipientSetKey(t *testing.T) {
	tests := []struct {
		name string
		set  RecipientSet
		want string
	}{
		{
			name: "empty set",
			set:  RecipientSet{},
			want: "",
		},
		{
			name: "single recipient",
			set:  NewRecipientSet(Recipient{ID: 42}),
			want: "42",
		},
		{
			name: "sorted regardless of input order",
			set:  NewRecipientSet(Recipient{ID: 30}, Recipient{ID: 10}, Recipient{ID: 20}),
			want: "10,20,30",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.set.Key())
		})
	}
}

func TestRecipientSetKeyIsOrderIndependent(t *testing.T) {
	a := NewRecipientSet(Recipient{ID: 1}, Recipient{ID: 2}, Recipient{ID: 3})
	b := NewRecipientSet(Recipient{ID: 3}, Recipient{ID: 1}, Recipient{ID: 2})
	assert.Equal(t, a.Key(), b.Key())
}

func TestRecipientSetShape(t *testing.T) {
	empty := RecipientSet{}
	assert.True(t, empty.IsEmpty())
	assert.False(t, empty.IsGroup())

	solo := NewRecipientSet(Recipient{ID: 1, Number: "+12025550101"})
	assert.False(t, solo.IsEmpty())
	assert.False(t, solo.IsGroup())
	assert.Equal(t, "+12025550101", solo.Primary().Number)

	group := NewRecipientSet(Recipient{ID: 1}, Recipient{ID: 2})
	assert.True(t, group.IsGroup())
	assert.Equal(t, int64(1), group.Primary().ID)
}
