package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	enc "github.com/zjkmxy/go-ndn/pkg/encoding"
	basic_engine "github.com/zjkmxy/go-ndn/pkg/engine/basic"
	"github.com/zjkmxy/go-ndn/pkg/engine/dummy"
	"github.com/zjkmxy/go-ndn/pkg/ndn"
	"github.com/zjkmxy/go-ndn/pkg/ndn/spec_2022"
	sec "github.com/zjkmxy/go-ndn/pkg/security"
	"github.com/zjkmxy/go-ndn/pkg/utils"
)

func executeTest(t *testing.T, main func(*dummy.DummyFace, *basic_engine.Engine, *dummy.Timer)) {
	utils.SetTestingT(t)

	face := dummy.NewDummyFace()
	timer := dummy.NewTimer()
	ndnEngine, err := Start(face, timer)
	require.NoError(t, err)

	main(face, ndnEngine, timer)

	require.NoError(t, ndnEngine.Shutdown())
}

func TestExpressData(t *testing.T) {
	executeTest(t, func(face *dummy.DummyFace, ndnEngine *basic_engine.Engine, timer *dummy.Timer) {
		name := utils.WithoutErr(enc.NameFromStr("/ndn/edu/ucla/CA/INFO"))
		results, err := express(ndnEngine, name, &ndn.InterestConfig{CanBePrefix: true, MustBeFresh: true}, nil, nil)
		require.NoError(t, err)

		buf := utils.WithoutErr(face.Consume())
		interest, _, err := spec_2022.Spec{}.ReadInterest(enc.NewBufferReader(buf))
		require.NoError(t, err)
		require.True(t, interest.Name().Equal(name))
		require.True(t, interest.CanBePrefix())
		require.NotNil(t, interest.Nonce())
		require.Equal(t, DefaultLifetime, *interest.Lifetime())

		dataName := append(name[:len(name):len(name)], enc.NewVersionComponent(1))
		data, _, err := spec_2022.Spec{}.MakeData(dataName, &ndn.DataConfig{}, enc.Wire{[]byte("profile")}, sec.NewSha256Signer())
		require.NoError(t, err)
		timer.MoveForward(100 * time.Millisecond)
		require.NoError(t, face.FeedPacket(data.Join()))

		r := <-results
		require.NoError(t, r.err)
		require.True(t, r.reply.Data.Name().Equal(dataName))
		require.Equal(t, []byte("profile"), r.reply.Data.Content().Join())
	})
}

func TestExpressTimeout(t *testing.T) {
	executeTest(t, func(face *dummy.DummyFace, ndnEngine *basic_engine.Engine, timer *dummy.Timer) {
		name := utils.WithoutErr(enc.NameFromStr("/ndn/edu/ucla/CA/INFO"))
		results, err := express(ndnEngine, name, &ndn.InterestConfig{Lifetime: utils.IdPtr(time.Second)}, nil, nil)
		require.NoError(t, err)
		utils.WithoutErr(face.Consume())

		timer.MoveForward(500 * time.Millisecond)
		require.Len(t, results, 0)
		timer.MoveForward(time.Second)
		r := <-results
		require.ErrorIs(t, r.err, ErrTimeout)
	})
}

func TestExpressNack(t *testing.T) {
	executeTest(t, func(face *dummy.DummyFace, ndnEngine *basic_engine.Engine, timer *dummy.Timer) {
		name := utils.WithoutErr(enc.NameFromStr("/no/route"))
		results, err := express(ndnEngine, name, &ndn.InterestConfig{}, nil, nil)
		require.NoError(t, err)
		buf := utils.WithoutErr(face.Consume())

		lpPkt := &spec_2022.Packet{
			LpPacket: &spec_2022.LpPacket{
				Nack:     &spec_2022.NetworkNack{Reason: spec_2022.NackReasonNoRoute},
				Fragment: enc.Wire{buf},
			},
		}
		encoder := spec_2022.PacketEncoder{}
		encoder.Init(lpPkt)
		require.NoError(t, face.FeedPacket(encoder.Encode(lpPkt).Join()))

		r := <-results
		require.ErrorIs(t, r.err, ErrNack)
	})
}

func TestExpressSignedKeepsCallerName(t *testing.T) {
	executeTest(t, func(face *dummy.DummyFace, ndnEngine *basic_engine.Engine, timer *dummy.Timer) {
		base := utils.WithoutErr(enc.NameFromStr("/ndn/edu/ucla/CA/NEW"))
		name := make(enc.Name, 0, len(base)+4)
		name = append(name, base...)

		_, err := express(ndnEngine, name, &ndn.InterestConfig{MustBeFresh: true}, enc.Wire{[]byte{1, 2, 3}}, sec.NewSha256IntSigner(timer))
		require.NoError(t, err)
		require.Len(t, name, len(base))
		spare := name[:len(name)+1]
		require.NotEqual(t, enc.TypeParametersSha256DigestComponent, spare[len(name)].Typ)

		buf := utils.WithoutErr(face.Consume())
		interest, sigCovered, err := spec_2022.Spec{}.ReadInterest(enc.NewBufferReader(buf))
		require.NoError(t, err)
		require.NotNil(t, sigCovered)
		require.True(t, base.IsPrefix(interest.Name()))
		require.Equal(t, enc.TypeParametersSha256DigestComponent, interest.Name()[len(base)].Typ)
		require.Equal(t, []byte{1, 2, 3}, interest.AppParam().Join())
		require.Equal(t, ndn.SignatureDigestSha256, interest.Signature().SigType())
	})
}

func TestExpressCancelled(t *testing.T) {
	executeTest(t, func(face *dummy.DummyFace, ndnEngine *basic_engine.Engine, timer *dummy.Timer) {
		name := utils.WithoutErr(enc.NameFromStr("/ndn/edu/ucla/CA/INFO"))
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := Express(ctx, ndnEngine, name, &ndn.InterestConfig{}, nil, nil)
		require.ErrorIs(t, err, context.Canceled)
	})
}

func TestNewFace(t *testing.T) {
	face, err := NewFace("unix", "/run/nfd/nfd.sock")
	require.NoError(t, err)
	require.True(t, face.IsLocal())
	face, err = NewFace("wss", "ndn.example.net:9696")
	require.NoError(t, err)
	require.False(t, face.IsLocal())
	_, err = NewFace("udp", "localhost:6363")
	require.Error(t, err)
}

func TestLoopbackFace(t *testing.T) {
	ndnEngine, err := Start(NewLoopbackFace(), nil)
	require.NoError(t, err)
	defer ndnEngine.Shutdown()

	prefix, err := enc.NameFromStr("/producer")
	require.NoError(t, err)
	require.NoError(t, ndnEngine.AttachHandler(prefix, func(interest ndn.Interest, rawInterest enc.Wire, sigCovered enc.Wire, reply ndn.ReplyFunc, deadline time.Time) {
		go func() {
			wire, _, err := spec_2022.Spec{}.MakeData(interest.Name(), &ndn.DataConfig{
				ContentType: utils.IdPtr(ndn.ContentTypeBlob),
			}, interest.AppParam(), sec.NewSha256Signer())
			if err == nil {
				_ = reply(wire)
			}
		}()
	}))

	ctx := context.Background()
	name, err := enc.NameFromStr("/producer/echo")
	require.NoError(t, err)
	reply, err := Express(ctx, ndnEngine, name, &ndn.InterestConfig{MustBeFresh: true}, enc.Wire{[]byte("hello")}, nil)
	require.NoError(t, err)
	require.Equal(t, "hello", string(reply.Data.Content().Join()))

	name, err = enc.NameFromStr("/nobody")
	require.NoError(t, err)
	_, err = Express(ctx, ndnEngine, name, &ndn.InterestConfig{Lifetime: utils.IdPtr(50 * time.Millisecond)}, nil, nil)
	require.ErrorIs(t, err, ErrTimeout)
}
