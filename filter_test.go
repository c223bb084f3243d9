package canard

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustCANID(t *testing.T, m Metadata) uint32 {
	t.Helper()
	id, err := MakeCANID(&m, []byte{0xAA})
	require.NoError(t, err)
	return id
}

func TestSubjectFilter(t *testing.T) {
	f := MakeSubjectFilter(7509)
	assert.Equal(t, uint64(1)<<13, f.AcceptanceSize())
	for prio := Priority(0); prio <= PRIORITY_MAX; prio++ {
		for _, src := range []OptNodeID{SomeNode(0), SomeNode(77), AnonymousNode} {
			id := mustCANID(t, Metadata{Priority: prio, Port: 7509, Source: src})
			assert.True(t, f.Accepts(id), "id %08X", id)
			assert.True(t, f.Accepts(id&^FLAG_COMPAT_MESSAGE), "bits 21 and 22 are don't care")
		}
	}
	assert.False(t, f.Accepts(mustCANID(t, Metadata{Port: 7508, Source: SomeNode(1)})))
	assert.False(t, f.Accepts(mustCANID(t, Metadata{TxKind: TxKindRequest, Port: 7509 & SERVICE_ID_MAX, Source: SomeNode(1), Destination: SomeNode(2)})))

	from := MakeSubjectFilterFrom(7509, 77)
	assert.True(t, f.Covers(from))
	assert.False(t, from.Covers(f))
	assert.True(t, from.Accepts(mustCANID(t, Metadata{Port: 7509, Source: SomeNode(77)})))
	assert.False(t, from.Accepts(mustCANID(t, Metadata{Port: 7509, Source: SomeNode(76)})))
	assert.False(t, from.Accepts(mustCANID(t, Metadata{Port: 7509})), "anonymous")
}

func TestServiceFilter(t *testing.T) {
	const local = 42
	req := MakeServiceFilter(TxKindRequest, 430, local)
	resp := MakeServiceFilter(TxKindResponse, 430, local)
	all := MakeServicesFilter(local)

	request := mustCANID(t, Metadata{TxKind: TxKindRequest, Port: 430, Source: SomeNode(3), Destination: SomeNode(local)})
	response := mustCANID(t, Metadata{TxKind: TxKindResponse, Port: 430, Source: SomeNode(3), Destination: SomeNode(local)})
	other := mustCANID(t, Metadata{TxKind: TxKindRequest, Port: 430, Source: SomeNode(3), Destination: SomeNode(43)})

	assert.True(t, req.Accepts(request))
	assert.False(t, req.Accepts(response))
	assert.False(t, req.Accepts(other))
	assert.True(t, resp.Accepts(response))
	assert.False(t, resp.Accepts(request))
	assert.True(t, all.Covers(req))
	assert.True(t, all.Covers(resp))
	assert.False(t, all.Accepts(other))
	assert.True(t, AcceptAll().Covers(all))
}

func TestFilterMerge(t *testing.T) {
	a, b := MakeSubjectFilter(100), MakeSubjectFilter(101)
	m, waste := mergeWaste(a, b)
	assert.True(t, m.Covers(a))
	assert.True(t, m.Covers(b))
	assert.Zero(t, waste, "subjects differing in one bit merge exactly")
	assert.Equal(t, 2*a.AcceptanceSize(), m.AcceptanceSize())

	c := MakeSubjectFilter(100 ^ 0x1000)
	m, waste = mergeWaste(a, c)
	assert.Zero(t, waste)
	m, waste = mergeWaste(m, b)
	// {100, 101, 100^0x1000} grows to four subjects.
	assert.Equal(t, a.AcceptanceSize(), waste)

	// Overlapping filters are not double counted.
	all := MakeServicesFilter(7)
	_, waste = mergeWaste(all, MakeServiceFilter(TxKindRequest, 1, 7))
	assert.Zero(t, waste)
}

func TestOptimizeFiltersGreedy(t *testing.T) {
	service := MakeServiceFilter(TxKindRequest, 430, 42)
	filters := []Filter{MakeSubjectFilter(100), service, MakeSubjectFilter(101)}
	got, err := OptimizeFilters(filters, 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, MakeSubjectFilter(100).Merge(MakeSubjectFilter(101)), got[0])
	assert.Equal(t, service, got[1])

	got, err = OptimizeFilters(got, 1)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.True(t, got[0].Covers(service))
}

func TestOptimizeFiltersEdgeCases(t *testing.T) {
	got, err := OptimizeFilters(nil, 4)
	assert.NoError(t, err)
	assert.Empty(t, got)

	got, err = OptimizeFilters(nil, 0)
	assert.NoError(t, err, "nothing required, nothing to program")
	assert.Empty(t, got)

	_, err = OptimizeFilters([]Filter{MakeSubjectFilter(1)}, 0)
	assert.ErrorIs(t, err, ErrNoFilterBanks)

	_, err = OptimizeFilters([]Filter{MakeSubjectFilter(1)}, -1)
	assert.ErrorIs(t, err, ErrInvalidArgument)

	in := []Filter{MakeSubjectFilter(1), MakeSubjectFilter(2)}
	got, err = OptimizeFilters(in, 8)
	require.NoError(t, err)
	assert.Equal(t, []Filter{MakeSubjectFilter(1), MakeSubjectFilter(2)}, got, "already within budget")
}

func randomFilters(rng *rand.Rand, n int) []Filter {
	filters := make([]Filter, n)
	for i := range filters {
		switch rng.Intn(4) {
		case 0:
			filters[i] = MakeServiceFilter(TxKind(1+rng.Intn(2)), PortID(rng.Intn(SERVICE_ID_MAX+1)), 42)
		case 1:
			filters[i] = MakeSubjectFilterFrom(PortID(rng.Intn(SUBJECT_ID_MAX+1)), NodeID(rng.Intn(NODE_ID_MAX+1)))
		default:
			filters[i] = MakeSubjectFilter(PortID(rng.Intn(SUBJECT_ID_MAX + 1)))
		}
	}
	return filters
}

// randomAcceptedID returns an identifier accepted by f.
func randomAcceptedID(rng *rand.Rand, f Filter) uint32 {
	return f.ID | rng.Uint32()&^f.Mask&_CAN_EXT_ID_MASK
}

func TestOptimizeFiltersSoundness(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	for round := 0; round < 50; round++ {
		ideal := randomFilters(rng, 1+rng.Intn(24))
		var prev []Filter
		for limit := len(ideal); limit >= 1; limit-- {
			got, err := OptimizeFilters(append([]Filter(nil), ideal...), limit)
			require.NoError(t, err)
			require.LessOrEqual(t, len(got), limit)

			for _, want := range ideal {
				require.True(t, coveredBy(got, want), "round %d limit %d: %v not covered by %v", round, limit, want, got)
				for i := 0; i < 8; i++ {
					id := randomAcceptedID(rng, want)
					accepted := false
					for _, f := range got {
						accepted = accepted || f.Accepts(id)
					}
					require.True(t, accepted, "id %08X dropped", id)
				}
			}
			// One more merge only ever widens acceptance.
			for _, f := range prev {
				assert.True(t, coveredBy(got, f), "round %d limit %d: acceptance shrank", round, limit)
			}
			prev = got
		}
	}
}

func coveredBy(set []Filter, f Filter) bool {
	for _, g := range set {
		if g.Covers(f) {
			return true
		}
	}
	return false
}
