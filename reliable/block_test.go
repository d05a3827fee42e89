package reliable

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDataBlockReceiverReassemblesInOrder(t *testing.T) {
	r, err := NewDataBlockReceiver(4, 16, nil)
	require.NoError(t, err)

	data := []byte("0123456789ABCDEF")
	numFragments := 4
	acked := []int{}
	sendAck := func(id int) { acked = append(acked, id) }

	for i := 0; i < numFragments; i++ {
		frag := data[i*4 : i*4+4]
		r.ProcessFragment(len(data), numFragments, i, len(frag), frag, sendAck)
	}

	require.NoError(t, r.Err())
	assert.Equal(t, []int{0, 1, 2, 3}, acked)

	b, ok := r.GetBlock()
	require.True(t, ok)
	assert.Equal(t, data, b.Bytes())
}

func TestDataBlockReceiverReassemblesOutOfOrderWithDuplicates(t *testing.T) {
	r, err := NewDataBlockReceiver(4, 16, nil)
	require.NoError(t, err)

	data := []byte("0123456789ABCDEF")
	numFragments := 4
	order := []int{2, 0, 2, 3, 1, 1}
	for _, i := range order {
		frag := data[i*4 : i*4+4]
		r.ProcessFragment(len(data), numFragments, i, len(frag), frag, nil)
	}

	b, ok := r.GetBlock()
	require.True(t, ok)
	assert.Equal(t, data, b.Bytes())
}

func TestDataBlockReceiverRejectsFragmentIDBeyondCapacity(t *testing.T) {
	// fragmentSize=4, maxBlockSize=16 => r.maxFragments == 4. A first
	// fragment declaring blockSize == maxBlockSize (exactly divisible by
	// fragmentSize) but an oversized numFragments, with fragmentID sitting
	// right at the capacity boundary and fragmentBytes == 0, must not pass
	// every check through to an out-of-range slice index.
	r, err := NewDataBlockReceiver(4, 16, nil)
	require.NoError(t, err)

	r.ProcessFragment(16, 5, 4, 0, nil, nil)
	assert.EqualValues(t, 1, r.FragmentsRejected)
	assert.NoError(t, r.Err(), "capacity overrun is a per-fragment reject, not a sticky error")
	_, ok := r.GetBlock()
	assert.False(t, ok)
}

func TestDataBlockReceiverRejectsBadFragmentID(t *testing.T) {
	r, err := NewDataBlockReceiver(4, 16, nil)
	require.NoError(t, err)

	r.ProcessFragment(16, 4, 99, 4, []byte("xxxx"), nil)
	assert.EqualValues(t, 1, r.FragmentsRejected)
	_, ok := r.GetBlock()
	assert.False(t, ok)
}

func TestDataBlockReceiverRejectsInconsistentMetadata(t *testing.T) {
	r, err := NewDataBlockReceiver(4, 16, nil)
	require.NoError(t, err)

	r.ProcessFragment(16, 4, 0, 4, []byte("abcd"), nil)
	r.ProcessFragment(12, 3, 1, 4, []byte("efgh"), nil)
	assert.EqualValues(t, 1, r.FragmentsRejected)
}

func TestDataBlockReceiverStickyBlockTooLarge(t *testing.T) {
	r, err := NewDataBlockReceiver(4, 16, nil)
	require.NoError(t, err)

	r.ProcessFragment(1000, 250, 0, 4, []byte("abcd"), nil)
	assert.ErrorIs(t, r.Err(), ErrBlockTooLarge)

	// Once in the sticky error state, further fragments are ignored
	// without incrementing FragmentsRejected.
	r.ProcessFragment(16, 4, 0, 4, []byte("abcd"), nil)
	assert.EqualValues(t, 0, r.FragmentsRejected)
	assert.ErrorIs(t, r.Err(), ErrBlockTooLarge)
}

func TestDataBlockReceiverClearResetsState(t *testing.T) {
	r, err := NewDataBlockReceiver(4, 16, nil)
	require.NoError(t, err)

	data := []byte("0123456789ABCDEF")
	for i := 0; i < 4; i++ {
		r.ProcessFragment(len(data), 4, i, 4, data[i*4:i*4+4], nil)
	}
	_, ok := r.GetBlock()
	require.True(t, ok)

	r.Clear()
	_, ok = r.GetBlock()
	assert.False(t, ok)
}

func TestFragmentSenderPacesResends(t *testing.T) {
	s := NewFragmentSender(4, 10) // 3 fragments: 4, 4, 2 bytes
	require.Equal(t, 3, s.NumFragments())

	id, off, size, ready := s.NextUnacked(0, 1.0)
	require.True(t, ready)
	assert.Equal(t, 0, id)
	assert.Equal(t, 0, off)
	assert.Equal(t, 4, size)

	// Immediately re-asking should move on to the next never-sent fragment,
	// not resend fragment 0 before resend_rate has elapsed.
	id2, _, _, ready2 := s.NextUnacked(0, 1.0)
	require.True(t, ready2)
	assert.Equal(t, 1, id2)

	id3, off3, size3, ready3 := s.NextUnacked(0, 1.0)
	require.True(t, ready3)
	assert.Equal(t, 2, id3)
	assert.Equal(t, 8, off3)
	assert.Equal(t, 2, size3)

	_, _, _, ready4 := s.NextUnacked(0, 1.0)
	assert.False(t, ready4, "nothing due until resend_rate elapses")

	s.AckFragment(0)
	s.AckFragment(1)
	s.AckFragment(2)
	assert.True(t, s.Done())
}
