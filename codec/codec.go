// Package codec serializes operation payloads passed through a loan
// provider's opaque callback-data channel. The format is a tagged fixed-shape
// concatenation: mode byte, family byte, parameter block, mode-specific
// trailer. Encoding is deterministic, so identical inputs produce
// byte-identical payloads.
package codec

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

var (
	ErrUnknownMode      = errors.New("unknown payload mode")
	ErrMalformedPayload = errors.New("malformed payload")
)

const (
	// MinPayloadLen is the shortest payload any mode accepts. Anything
	// shorter is rejected before looking at the body.
	MinPayloadLen = 33

	headerLen  = 2   // mode + family
	jitCoreLen = 157 // token0 + token1 + amount0 + amount1 + pool + poolType + minFeeExpected
	posLen     = 44  // feeTier + tickLower + tickUpper + tokenID
	arbCoreLen = 54  // startToken + borrowAmount + swap count
	swapLen    = 128
	trailerLen = 64 // two 32-byte words, modes 2 and 3 only
)

// Encode serializes p. The trailer is omitted for mode 1.
func Encode(p *Payload) ([]byte, error) {
	if p == nil {
		return nil, fmt.Errorf("%w: nil payload", ErrMalformedPayload)
	}
	if p.Mode < ModeStandard || p.Mode > ModeBatch {
		return nil, fmt.Errorf("%w: %d", ErrUnknownMode, p.Mode)
	}
	if p.Family == FamilyArb && p.Mode != ModeStandard {
		return nil, fmt.Errorf("%w: arbitrage only supports mode 1", ErrMalformedPayload)
	}

	buf := make([]byte, 0, 256)
	buf = append(buf, byte(p.Mode), byte(p.Family))

	switch p.Family {
	case FamilyJIT:
		if p.JIT == nil || p.Position == nil {
			return nil, fmt.Errorf("%w: missing JIT parameter block", ErrMalformedPayload)
		}
		buf = append(buf, p.JIT.Token0.Bytes()...)
		buf = append(buf, p.JIT.Token1.Bytes()...)
		var err error
		if buf, err = appendU256(buf, p.JIT.Amount0); err != nil {
			return nil, err
		}
		if buf, err = appendU256(buf, p.JIT.Amount1); err != nil {
			return nil, err
		}
		buf = append(buf, p.JIT.Pool.Bytes()...)
		buf = append(buf, byte(p.JIT.PoolType))
		if buf, err = appendU256(buf, p.JIT.MinFeeExpected); err != nil {
			return nil, err
		}
		buf = binary.BigEndian.AppendUint32(buf, p.Position.FeeTier)
		buf = binary.BigEndian.AppendUint32(buf, uint32(p.Position.TickLower))
		buf = binary.BigEndian.AppendUint32(buf, uint32(p.Position.TickUpper))
		if buf, err = appendU256(buf, p.Position.TokenID); err != nil {
			return nil, err
		}

	case FamilyArb:
		if p.Arb == nil {
			return nil, fmt.Errorf("%w: missing arbitrage parameter block", ErrMalformedPayload)
		}
		if len(p.Arb.Swaps) == 0 || len(p.Arb.Swaps) > 0xffff {
			return nil, fmt.Errorf("%w: swap count %d", ErrMalformedPayload, len(p.Arb.Swaps))
		}
		buf = append(buf, p.Arb.StartToken.Bytes()...)
		var err error
		if buf, err = appendU256(buf, p.Arb.BorrowAmount); err != nil {
			return nil, err
		}
		buf = binary.BigEndian.AppendUint16(buf, uint16(len(p.Arb.Swaps)))
		for i := range p.Arb.Swaps {
			s := &p.Arb.Swaps[i]
			buf = append(buf, s.Pool.Bytes()...)
			buf = append(buf, byte(s.Dex), boolByte(s.ZeroForOne), s.I, s.J)
			buf = append(buf, s.TokenIn.Bytes()...)
			buf = append(buf, s.TokenOut.Bytes()...)
			if buf, err = appendU256(buf, s.AmountIn); err != nil {
				return nil, err
			}
			if buf, err = appendU256(buf, s.MinAmountOut); err != nil {
				return nil, err
			}
		}

	default:
		return nil, fmt.Errorf("%w: family %d", ErrMalformedPayload, p.Family)
	}

	switch p.Mode {
	case ModeUltraAggressive:
		if p.Trailer == nil {
			return nil, fmt.Errorf("%w: mode 2 requires a trailer", ErrMalformedPayload)
		}
		buf = append(buf, p.Trailer.CompetitorRef.Bytes()...)
		var err error
		if buf, err = appendU256(buf, p.Trailer.PriorityMultiplier); err != nil {
			return nil, err
		}
	case ModeBatch:
		if p.Trailer == nil {
			return nil, fmt.Errorf("%w: mode 3 requires a trailer", ErrMalformedPayload)
		}
		var err error
		if buf, err = appendU256(buf, p.Trailer.BatchIndex); err != nil {
			return nil, err
		}
		if buf, err = appendU256(buf, p.Trailer.BatchSize); err != nil {
			return nil, err
		}
	}

	return buf, nil
}

// Decode parses data back into a Payload. Length is validated against the
// exact size the declared mode and family imply.
func Decode(data []byte) (*Payload, error) {
	if len(data) < MinPayloadLen {
		return nil, fmt.Errorf("%w: %d bytes, minimum %d", ErrMalformedPayload, len(data), MinPayloadLen)
	}

	mode := Mode(data[0])
	if mode < ModeStandard || mode > ModeBatch {
		return nil, fmt.Errorf("%w: %d", ErrUnknownMode, data[0])
	}
	family := Family(data[1])

	p := &Payload{Mode: mode, Family: family}
	var offset int

	switch family {
	case FamilyJIT:
		if len(data) < headerLen+jitCoreLen+posLen {
			return nil, fmt.Errorf("%w: %d bytes for JIT body, need %d",
				ErrMalformedPayload, len(data), headerLen+jitCoreLen+posLen)
		}
		r := reader{data: data, off: headerLen}
		p.JIT = &JITParams{
			Token0:  r.address(),
			Token1:  r.address(),
			Amount0: r.u256(),
			Amount1: r.u256(),
			Pool:    r.address(),
		}
		p.JIT.PoolType = PoolType(r.byte())
		p.JIT.MinFeeExpected = r.u256()
		p.Position = &V3PositionParams{
			FeeTier:   r.u32(),
			TickLower: int32(r.u32()),
			TickUpper: int32(r.u32()),
			TokenID:   r.u256(),
		}
		offset = r.off

	case FamilyArb:
		if mode != ModeStandard {
			return nil, fmt.Errorf("%w: arbitrage only supports mode 1", ErrMalformedPayload)
		}
		if len(data) < headerLen+arbCoreLen {
			return nil, fmt.Errorf("%w: %d bytes for arb header", ErrMalformedPayload, len(data))
		}
		r := reader{data: data, off: headerLen}
		p.Arb = &ArbParams{
			StartToken:   r.address(),
			BorrowAmount: r.u256(),
		}
		count := int(r.u16())
		if count == 0 {
			return nil, fmt.Errorf("%w: empty swap list", ErrMalformedPayload)
		}
		if len(data) < r.off+count*swapLen {
			return nil, fmt.Errorf("%w: %d bytes for %d swaps", ErrMalformedPayload, len(data), count)
		}
		p.Arb.Swaps = make([]SwapStep, count)
		for i := 0; i < count; i++ {
			s := &p.Arb.Swaps[i]
			s.Pool = r.address()
			s.Dex = DexType(r.byte())
			s.ZeroForOne = r.byte() != 0
			s.I = r.byte()
			s.J = r.byte()
			s.TokenIn = r.address()
			s.TokenOut = r.address()
			s.AmountIn = r.u256()
			s.MinAmountOut = r.u256()
		}
		offset = r.off

	default:
		return nil, fmt.Errorf("%w: family %d", ErrMalformedPayload, data[1])
	}

	switch mode {
	case ModeStandard:
		if len(data) != offset {
			return nil, fmt.Errorf("%w: %d trailing bytes", ErrMalformedPayload, len(data)-offset)
		}
	case ModeUltraAggressive, ModeBatch:
		if len(data) != offset+trailerLen {
			return nil, fmt.Errorf("%w: %d bytes, mode %d needs %d",
				ErrMalformedPayload, len(data), mode, offset+trailerLen)
		}
		r := reader{data: data, off: offset}
		t := &Trailer{}
		if mode == ModeUltraAggressive {
			t.CompetitorRef = common.BytesToHash(r.bytes(32))
			t.PriorityMultiplier = r.u256()
		} else {
			t.BatchIndex = r.u256()
			t.BatchSize = r.u256()
		}
		p.Trailer = t
	}

	return p, nil
}

// IsCompetitionData reports whether data declares the ultra-aggressive mode.
func IsCompetitionData(data []byte) bool {
	return len(data) > 0 && Mode(data[0]) == ModeUltraAggressive
}

// IsBatchOperation reports whether data declares the batch mode.
func IsBatchOperation(data []byte) bool {
	return len(data) > 0 && Mode(data[0]) == ModeBatch
}

// ExtractMetadata returns the mode and the two trailer words without decoding
// the full payload. Mode 1 has no trailer, so both words are zero.
func ExtractMetadata(data []byte) (Mode, *big.Int, *big.Int, error) {
	p, err := Decode(data)
	if err != nil {
		return 0, nil, nil, err
	}
	switch p.Mode {
	case ModeUltraAggressive:
		return p.Mode, new(big.Int).SetBytes(p.Trailer.CompetitorRef.Bytes()), p.Trailer.PriorityMultiplier, nil
	case ModeBatch:
		return p.Mode, p.Trailer.BatchIndex, p.Trailer.BatchSize, nil
	default:
		return p.Mode, big.NewInt(0), big.NewInt(0), nil
	}
}

func appendU256(buf []byte, v *big.Int) ([]byte, error) {
	if v == nil {
		v = big.NewInt(0)
	}
	if v.Sign() < 0 || v.BitLen() > 256 {
		return nil, fmt.Errorf("%w: value out of u256 range", ErrMalformedPayload)
	}
	var word [32]byte
	v.FillBytes(word[:])
	return append(buf, word[:]...), nil
}

func boolByte(b bool) byte {
	if b {
		return 1
	}
	return 0
}

// reader walks the payload. Callers validate lengths up front, so reads
// never run past the buffer.
type reader struct {
	data []byte
	off  int
}

func (r *reader) bytes(n int) []byte {
	b := r.data[r.off : r.off+n]
	r.off += n
	return b
}

func (r *reader) address() common.Address {
	return common.BytesToAddress(r.bytes(20))
}

func (r *reader) u256() *big.Int {
	return new(big.Int).SetBytes(r.bytes(32))
}

func (r *reader) u32() uint32 {
	return binary.BigEndian.Uint32(r.bytes(4))
}

func (r *reader) u16() uint16 {
	return binary.BigEndian.Uint16(r.bytes(2))
}

func (r *reader) byte() byte {
	b := r.data[r.off]
	r.off++
	return b
}
