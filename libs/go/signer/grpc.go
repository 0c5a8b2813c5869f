package signer

import (
	"context"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/cyphera/sponsor-relay/libs/go/logger"
	"github.com/cyphera/sponsor-relay/libs/go/relayerr"
	"github.com/cyphera/sponsor-relay/libs/go/signature"
)

const (
	// ServiceName is the signing network's gRPC service.
	ServiceName = "signing.v1.ThresholdSigner"
	// SignMethod is the full method name of Sign.
	SignMethod = "/" + ServiceName + "/Sign"

	defaultRPCTimeout = 3 * time.Minute
	maxMessageSize    = 4 * 1024 * 1024
)

// GRPCConfig configures the connection to the signing network.
type GRPCConfig struct {
	Addr         string
	RPCTimeout   time.Duration
	UseLocalMode bool
	// DialOptions are appended after the defaults, e.g. a bufconn dialer in tests.
	DialOptions []grpc.DialOption
}

// GRPCSigner talks to the signing network over gRPC.
type GRPCSigner struct {
	conn       *grpc.ClientConn
	rpcTimeout time.Duration
	logger     *zap.Logger
}

// NewGRPCSigner creates a client for the signing network. Local mode uses
// plaintext and passthrough resolution; otherwise TLS with the system roots.
func NewGRPCSigner(cfg GRPCConfig) (*GRPCSigner, error) {
	if cfg.Addr == "" {
		return nil, fmt.Errorf("signer gRPC address is required")
	}
	timeout := cfg.RPCTimeout
	if timeout == 0 {
		timeout = defaultRPCTimeout
	}

	var creds grpc.DialOption
	target := cfg.Addr
	if cfg.UseLocalMode {
		creds = grpc.WithTransportCredentials(insecure.NewCredentials())
		target = fmt.Sprintf("passthrough:///%s", cfg.Addr)
	} else {
		creds = grpc.WithTransportCredentials(credentials.NewClientTLSFromCert(nil, ""))
	}

	dialOpts := append([]grpc.DialOption{
		creds,
		grpc.WithDefaultCallOptions(
			grpc.MaxCallRecvMsgSize(maxMessageSize),
			grpc.MaxCallSendMsgSize(maxMessageSize),
		),
	}, cfg.DialOptions...)

	conn, err := grpc.NewClient(target, dialOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to signer gRPC server: %w", err)
	}

	return &GRPCSigner{conn: conn, rpcTimeout: timeout, logger: logger.Or(nil)}, nil
}

// Close closes the connection.
func (s *GRPCSigner) Close() error {
	return s.conn.Close()
}

// Sign implements ThresholdSigner.
func (s *GRPCSigner) Sign(ctx context.Context, req Request) (signature.Raw, error) {
	if err := req.Validate(); err != nil {
		return signature.Raw{}, relayerr.Signing("invalid_signing_request", "invalid signing request", err)
	}

	ctx, cancel := context.WithTimeout(ctx, s.rpcTimeout)
	defer cancel()

	in, err := EncodeRequest(req)
	if err != nil {
		return signature.Raw{}, relayerr.Signing("invalid_signing_request", "invalid signing request", err)
	}
	out := new(structpb.Struct)

	start := time.Now()
	if err := s.conn.Invoke(ctx, SignMethod, in, out); err != nil {
		s.logger.Warn("Signing request failed",
			zap.String("session", req.Session),
			zap.Int("peer", req.Peer),
			zap.Duration("duration", time.Since(start)),
			zap.Error(err),
		)
		return signature.Raw{}, relayerr.Signing("signing_failed", "signing network did not return a signature", formatRPCError(err))
	}

	s.logger.Debug("Signing request completed",
		zap.String("session", req.Session),
		zap.Int("peer", req.Peer),
		zap.Duration("duration", time.Since(start)),
	)
	return DecodeResponse(out)
}

func formatRPCError(err error) error {
	if st, ok := status.FromError(err); ok {
		return fmt.Errorf("%s: %s", st.Code(), st.Message())
	}
	return err
}

// EncodeRequest converts a request to its wire form.
func EncodeRequest(req Request) (*structpb.Struct, error) {
	return structpb.NewStruct(map[string]interface{}{
		"session": req.Session,
		"peer":    req.Peer,
		"key_id":  req.KeyID,
		"digest":  hexutil.Encode(req.Digest[:]),
	})
}

// DecodeRequest parses the wire form of a request.
func DecodeRequest(in *structpb.Struct) (Request, error) {
	fields := in.GetFields()
	req := Request{
		Session: fields["session"].GetStringValue(),
		Peer:    int(fields["peer"].GetNumberValue()),
		KeyID:   fields["key_id"].GetStringValue(),
	}
	digest, err := hexutil.Decode(fields["digest"].GetStringValue())
	if err != nil || len(digest) != 32 {
		return Request{}, fmt.Errorf("digest must be 32 bytes of 0x-prefixed hex")
	}
	copy(req.Digest[:], digest)
	return req, req.Validate()
}

// DecodeResponse turns the wire response into a raw signature. An "error"
// field means the network refused.
func DecodeResponse(out *structpb.Struct) (signature.Raw, error) {
	fields := out.AsMap()
	if msg, ok := fields["error"].(string); ok && msg != "" {
		return signature.Raw{}, relayerr.Signing("signing_refused", "signing network refused: "+msg, nil)
	}
	if len(fields) == 0 {
		return signature.Raw{}, relayerr.Signing("unrecognized_signature", "signing network returned an empty response", nil)
	}
	return signature.RawObject(fields), nil
}

// EncodeResponse converts a raw signature to its wire form. Bare strings
// travel as {"signature": "..."}.
func EncodeResponse(raw signature.Raw) (*structpb.Struct, error) {
	if raw.Object != nil {
		return structpb.NewStruct(raw.Object)
	}
	return structpb.NewStruct(map[string]interface{}{"signature": raw.Text})
}
