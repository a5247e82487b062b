package signer

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type submitted struct {
	sig string
	err error
}

func submitAsync(q *Queue, ctx context.Context, req Request) <-chan submitted {
	out := make(chan submitted, 1)
	go func() {
		sig, err := q.Submit(ctx, req)
		out <- submitted{sig, err}
	}()
	return out
}

func waitPending(t *testing.T, q *Queue, n int) []Request {
	t.Helper()
	require.Eventually(t, func() bool { return len(q.Pending()) == n }, time.Second, 5*time.Millisecond)
	return q.Pending()
}

func TestQueueResolve(t *testing.T) {
	q := NewQueue(0, nil)
	events := make(chan Event, 4)
	sub := q.Subscribe(events)
	defer sub.Unsubscribe()

	res := submitAsync(q, context.Background(), Request{Kind: KindManual, From: "0xabc", Payload: "{}"})
	pending := waitPending(t, q, 1)
	id := pending[0].ID
	assert.NotEmpty(t, id)
	assert.Equal(t, KindManual, pending[0].Kind)

	got, ok := q.Get(id)
	require.True(t, ok)
	assert.Equal(t, "0xabc", got.From)

	require.NoError(t, q.Resolve(id, "0xsig"))
	r := <-res
	require.NoError(t, r.err)
	assert.Equal(t, "0xsig", r.sig)
	assert.Empty(t, q.Pending())

	assert.Equal(t, EventRequested, (<-events).Type)
	ev := <-events
	assert.Equal(t, EventResolved, ev.Type)
	assert.False(t, ev.Rejected)

	assert.ErrorIs(t, q.Resolve(id, "again"), ErrRequestNotFound)
}

func TestQueueReject(t *testing.T) {
	q := NewQueue(0, nil)
	res := submitAsync(q, context.Background(), Request{ID: "fixed-id", Kind: KindQR})
	waitPending(t, q, 1)

	require.NoError(t, q.Reject("fixed-id"))
	assert.ErrorIs(t, (<-res).err, ErrRequestRejected)
	assert.ErrorIs(t, q.Reject("fixed-id"), ErrRequestNotFound)
}

func TestQueueTimeout(t *testing.T) {
	clock := clockwork.NewFakeClock()
	q := NewQueue(time.Minute, clock)

	res := submitAsync(q, context.Background(), Request{Kind: KindManual})
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, clock.BlockUntilContext(ctx, 1))

	clock.Advance(time.Minute)
	assert.ErrorIs(t, (<-res).err, ErrRequestTimeout)
	assert.Empty(t, q.Pending())
}

func TestQueueContextCancel(t *testing.T) {
	q := NewQueue(0, nil)
	ctx, cancel := context.WithCancel(context.Background())
	res := submitAsync(q, ctx, Request{Kind: KindManual})
	waitPending(t, q, 1)

	cancel()
	assert.ErrorIs(t, (<-res).err, context.Canceled)
	assert.Empty(t, q.Pending())
}

func TestQueueClose(t *testing.T) {
	q := NewQueue(0, nil)
	res := submitAsync(q, context.Background(), Request{Kind: KindManual})
	waitPending(t, q, 1)

	q.Close()
	assert.ErrorIs(t, (<-res).err, ErrQueueClosed)

	_, err := q.Submit(context.Background(), Request{})
	assert.ErrorIs(t, err, ErrQueueClosed)
}

func TestTxPayload(t *testing.T) {
	to := common.HexToAddress("0x8617E340B3D01FA5F11F306F4090FD50E238070D")
	tx := types.NewTx(&types.DynamicFeeTx{
		ChainID:   big.NewInt(1),
		Nonce:     0,
		GasTipCap: big.NewInt(1_000_000_000),
		GasFeeCap: big.NewInt(30_000_000_000),
		Gas:       21000,
		To:        &to,
		Value:     big.NewInt(255),
	})
	from := common.HexToAddress("0x52908400098527886E0F7030069857D2E4169EE7")

	p := NewTxPayload(from, tx)
	assert.Equal(t, "0x1", p.ChainID)
	assert.Equal(t, "0x0", p.Nonce)
	assert.Equal(t, "0x8617e340b3d01fa5f11f306f4090fd50e238070d", p.To)
	assert.Equal(t, "0xff", p.Value)
	assert.Equal(t, "0x6fc23ac00", p.MaxFeePerGas)
	assert.Equal(t, "0x3b9aca00", p.MaxPriorityFeePerGas)
	assert.Equal(t, "0x5208", p.GasLimit)
	assert.Equal(t, "0x", p.Data)
	assert.Equal(t, "0x52908400098527886e0f7030069857d2e4169ee7", p.From)

	assert.Equal(t,
		`{"chainId":"0x1","nonce":"0x0","to":"0x8617e340b3d01fa5f11f306f4090fd50e238070d","value":"0xff",`+
			`"maxFeePerGas":"0x6fc23ac00","maxPriorityFeePerGas":"0x3b9aca00","gasLimit":"0x5208","data":"0x",`+
			`"from":"0x52908400098527886e0f7030069857d2e4169ee7"}`,
		p.String())
}
