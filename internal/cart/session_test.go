package cart

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xelth-com/eckposgo/internal/models"
)

func line(code string, qty, rate float64) models.CartLine {
	return models.CartLine{ItemCode: code, ItemName: code, ItemGroup: "Drinks", UOM: "Nos", Quantity: qty, Rate: rate}
}

func TestSessionAddItemMerges(t *testing.T) {
	s := NewSession(Profile{Name: "Main"}, "op")
	var kinds []ChangeKind
	s.OnChange(func(k ChangeKind) { kinds = append(kinds, k) })

	require.NoError(t, s.AddItem(line("COLA", 1, 2.5)))
	require.NoError(t, s.AddItem(line("COLA", 2, 2.5)))
	require.NoError(t, s.AddItem(line("WATER", 1, 1)))

	lines := s.Lines()
	require.Len(t, lines, 2)
	assert.Equal(t, 3.0, lines[0].Quantity)
	assert.Equal(t, 7.5, lines[0].Amount)
	assert.Equal(t, 2.5, lines[0].PriceListRate)
	assert.Equal(t, []ChangeKind{ChangeLines, ChangeLines, ChangeLines}, kinds)

	assert.Error(t, s.AddItem(line("", 1, 1)))
	assert.Error(t, s.AddItem(line("COLA", 0, 1)))
}

func TestSessionUpdateAndRemove(t *testing.T) {
	s := NewSession(Profile{Name: "Main"}, "op")
	require.NoError(t, s.AddItem(line("COLA", 1, 2)))

	require.NoError(t, s.UpdateQuantity("COLA", "Nos", 4))
	assert.Equal(t, 8.0, s.Lines()[0].Amount)

	require.NoError(t, s.UpdateQuantity("COLA", "", 0))
	assert.Empty(t, s.Lines())
	assert.ErrorIs(t, s.RemoveItem("COLA", ""), ErrLineNotFound)
	assert.ErrorIs(t, s.UpdateQuantity("COLA", "", 2), ErrLineNotFound)
}

func TestSessionChangeUOMMergesCollision(t *testing.T) {
	s := NewSession(Profile{Name: "Main"}, "op")
	require.NoError(t, s.AddItem(line("COLA", 2, 1)))
	box := line("COLA", 1, 12)
	box.UOM = "Box"
	require.NoError(t, s.AddItem(box))

	merged, err := s.ChangeUOM(UOMChange{ItemCode: "COLA", FromUOM: "Nos", ToUOM: "Box"})
	require.NoError(t, err)
	assert.True(t, merged)
	lines := s.Lines()
	require.Len(t, lines, 1)
	assert.Equal(t, "Box", lines[0].UOM)
	assert.Equal(t, 3.0, lines[0].Quantity)

	merged, err = s.ChangeUOM(UOMChange{ItemCode: "COLA", FromUOM: "Box", ToUOM: "Crate", Rate: 40, ConversionFactor: 48})
	require.NoError(t, err)
	assert.False(t, merged)
	lines = s.Lines()
	assert.Equal(t, "Crate", lines[0].UOM)
	assert.Equal(t, 40.0, lines[0].Rate)
	assert.Equal(t, 48.0, lines[0].ConversionFactor)

	_, err = s.ChangeUOM(UOMChange{ItemCode: "NOPE", ToUOM: "Box"})
	assert.ErrorIs(t, err, ErrLineNotFound)
}

func TestSessionHash(t *testing.T) {
	s := NewSession(Profile{Name: "Main"}, "op")
	assert.Equal(t, "::0::0::none::0", s.Hash())

	require.NoError(t, s.AddItem(line("COLA", 2, 10)))
	assert.Equal(t, "COLA:2:Nos:0::1::2000::none::0", s.Hash())

	before := s.Hash()
	s.SetCustomer("Jane")
	assert.NotEqual(t, before, s.Hash())
	assert.Equal(t, "COLA:2:Nos:0::1::2000::Jane::0", s.Hash())

	s2 := NewSession(Profile{Name: "Main", Customer: "Walk-in"}, "op")
	assert.Equal(t, "Walk-in", s2.Customer())
	assert.Equal(t, "::0::0::Walk-in::0", s2.Hash())
}

func TestSessionSnapshotFollowsChanges(t *testing.T) {
	s := NewSession(Profile{Name: "Main"}, "op")
	require.NoError(t, s.AddItem(line("COLA", 2, 10)))
	assert.Equal(t, 20.0, s.Snapshot().Subtotal)

	require.NoError(t, s.UpdateQuantity("COLA", "", 3))
	snap := s.Snapshot()
	assert.Equal(t, 30.0, snap.Subtotal)
	assert.Equal(t, 3.0, snap.GroupQty["Drinks"])
}

func TestSessionApplyDiscardsStaleGeneration(t *testing.T) {
	s := NewSession(Profile{Name: "Main"}, "op")
	require.NoError(t, s.AddItem(line("COLA", 1, 10)))

	v := s.view()
	require.NoError(t, s.AddItem(line("WATER", 1, 1)))

	ok := s.apply(v.gen, func(st *cartState) bool {
		st.lines[0].DiscountPercentage = 50
		return true
	})
	assert.False(t, ok)
	assert.Zero(t, s.Lines()[0].DiscountPercentage)

	v = s.view()
	ok = s.apply(v.gen, func(st *cartState) bool {
		st.lines[0].DiscountPercentage = 50
		return true
	})
	assert.True(t, ok)
	assert.Equal(t, 50.0, s.Lines()[0].DiscountPercentage)
	assert.Equal(t, v.gen, s.view().gen)
}

func TestSessionApplyVetoKeepsCart(t *testing.T) {
	s := NewSession(Profile{Name: "Main"}, "op")
	require.NoError(t, s.AddItem(line("COLA", 1, 10)))

	v := s.view()
	ok := s.apply(v.gen, func(st *cartState) bool {
		st.lines[0].DiscountPercentage = 50
		return false
	})
	assert.False(t, ok)
	assert.Zero(t, s.Lines()[0].DiscountPercentage)
}

func TestSessionClear(t *testing.T) {
	s := NewSession(Profile{Name: "Main"}, "op")
	var last ChangeKind
	s.OnChange(func(k ChangeKind) { last = k })
	require.NoError(t, s.AddItem(line("COLA", 1, 10)))
	s.SetCustomer("Jane")
	s.updateState(func(st *ProcessingState) { st.RetryCount = 2 })

	s.Clear()
	assert.Equal(t, ChangeCleared, last)
	assert.Empty(t, s.Lines())
	assert.Empty(t, s.AppliedOffers())
	assert.Equal(t, "", s.Customer())
	assert.Zero(t, s.ProcessingState().RetryCount)
}

func TestLineFromItem(t *testing.T) {
	it := &models.CachedCatalogItem{ItemCode: "COLA", ItemName: "Cola", StockUOM: "Nos", PriceListRate: 2}
	l := LineFromItem(it, 3, "")
	assert.Equal(t, "Nos", l.UOM)
	assert.Equal(t, 2.0, l.Rate)
	assert.Equal(t, 2.0, l.PriceListRate)
	assert.Equal(t, 3.0, l.Quantity)
}
