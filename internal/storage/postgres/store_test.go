package postgres

import (
	"bytes"
	"testing"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"slpdexdb/internal/model"
)

func TestEntityFromRow(t *testing.T) {
	attrs := bytes.Repeat([]byte{0x11}, model.AttributeSize)
	hash := bytes.Repeat([]byte{0x22}, chainhash.HashSize)

	e, err := entityFromRow(3, attrs, hash)
	require.NoError(t, err)
	assert.Equal(t, int64(3), e.ID)
	assert.Equal(t, byte(0x11), e.Attributes[model.AttributeSize-1])
	assert.Equal(t, byte(0x22), e.TxHash[0])
}

func TestEntityFromRowRejectsMalformedRows(t *testing.T) {
	hash := bytes.Repeat([]byte{0x22}, chainhash.HashSize)

	_, err := entityFromRow(3, make([]byte, model.AttributeSize-1), hash)
	assert.ErrorIs(t, err, model.ErrConsistency)

	_, err = entityFromRow(3, make([]byte, model.AttributeSize), []byte{1, 2})
	assert.ErrorIs(t, err, model.ErrConsistency)
}
