// Package pack exports and imports direct edges as zstd-compressed packs.
package pack

import (
	"bufio"
	"bytes"
	"context"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/google/uuid"
	"github.com/klauspost/compress/zstd"

	"typeddag/internal/cas"
	"typeddag/internal/closure"
	"typeddag/internal/ctxlog"
	"typeddag/internal/db"
	"typeddag/internal/proto"
)

// Pack format (before compression):
// [4 bytes: header length (big-endian)]
// [header JSON: proto.PackHeader]
// [body: one proto.PackEdge JSON object per line]
//
// Only direct edges travel in a pack. The closure is re-derived on import.

const (
	HeaderLengthSize = 4
	MaxHeaderSize    = 1024 * 1024
	FormatVersion    = 1

	// minEdgeLineLen is the shortest encoded PackEdge line:
	// {"id":0,"from":0,"to":0,"type":""} plus the newline.
	minEdgeLineLen = 36
)

var (
	ErrChecksumMismatch = errors.New("pack checksum mismatch")
	ErrUnknownType      = errors.New("pack references an unknown type column")
	ErrMalformed        = errors.New("malformed pack")
)

// BuildPack encodes direct edges of the given schema into a compressed pack.
func BuildPack(schema closure.Schema, edges []closure.Edge) ([]byte, *proto.PackHeader, error) {
	var body bytes.Buffer
	hasher := cas.NewBlake3Hasher()
	enc := json.NewEncoder(io.MultiWriter(&body, hasher))
	for _, e := range edges {
		if !e.IsDirect() {
			return nil, nil, fmt.Errorf("edge %d: %w", e.ID, closure.ErrNotDirect)
		}
		slot := e.Types.Slot()
		if slot >= schema.Width() {
			return nil, nil, fmt.Errorf("edge %d: %w", e.ID, closure.ErrWidthMismatch)
		}
		if err := enc.Encode(proto.PackEdge{
			ID:   e.ID,
			From: e.From,
			To:   e.To,
			Type: schema.TypeColumns[slot],
		}); err != nil {
			return nil, nil, fmt.Errorf("encoding edge %d: %w", e.ID, err)
		}
	}

	header := &proto.PackHeader{
		PackID:      uuid.NewString(),
		Format:      FormatVersion,
		TypeColumns: schema.TypeColumns,
		Count:       len(edges),
		Checksum:    hex.EncodeToString(hasher.Sum(nil)),
		CreatedAt:   cas.NowMs(),
	}
	headerJSON, err := json.Marshal(header)
	if err != nil {
		return nil, nil, fmt.Errorf("marshaling header: %w", err)
	}

	var raw bytes.Buffer
	headerLen := make([]byte, HeaderLengthSize)
	binary.BigEndian.PutUint32(headerLen, uint32(len(headerJSON)))
	raw.Write(headerLen)
	raw.Write(headerJSON)
	raw.Write(body.Bytes())

	var compressed bytes.Buffer
	encoder, err := zstd.NewWriter(&compressed)
	if err != nil {
		return nil, nil, fmt.Errorf("creating zstd encoder: %w", err)
	}
	if _, err := encoder.Write(raw.Bytes()); err != nil {
		encoder.Close()
		return nil, nil, fmt.Errorf("compressing: %w", err)
	}
	if err := encoder.Close(); err != nil {
		return nil, nil, fmt.Errorf("closing encoder: %w", err)
	}
	return compressed.Bytes(), header, nil
}

// ParsePack decompresses a pack, checks its body checksum and returns the
// header and edges.
func ParsePack(r io.Reader) (*proto.PackHeader, []proto.PackEdge, error) {
	decoder, err := zstd.NewReader(r)
	if err != nil {
		return nil, nil, fmt.Errorf("creating zstd decoder: %w", err)
	}
	defer decoder.Close()

	decompressed, err := io.ReadAll(decoder)
	if err != nil {
		return nil, nil, fmt.Errorf("decompressing: %w", err)
	}
	if len(decompressed) < HeaderLengthSize {
		return nil, nil, fmt.Errorf("%w: %d bytes", ErrMalformed, len(decompressed))
	}

	headerLen := binary.BigEndian.Uint32(decompressed[:HeaderLengthSize])
	if headerLen > MaxHeaderSize {
		return nil, nil, fmt.Errorf("%w: header too large: %d bytes", ErrMalformed, headerLen)
	}
	if int(HeaderLengthSize+headerLen) > len(decompressed) {
		return nil, nil, fmt.Errorf("%w: header length exceeds pack size", ErrMalformed)
	}

	var header proto.PackHeader
	if err := json.Unmarshal(decompressed[HeaderLengthSize:HeaderLengthSize+headerLen], &header); err != nil {
		return nil, nil, fmt.Errorf("parsing header: %w", err)
	}
	if header.Format != FormatVersion {
		return nil, nil, fmt.Errorf("%w: unsupported format %d", ErrMalformed, header.Format)
	}
	if header.Count < 0 {
		return nil, nil, fmt.Errorf("%w: negative edge count %d", ErrMalformed, header.Count)
	}

	body := decompressed[HeaderLengthSize+headerLen:]
	if got := cas.Blake3HashHex(body); got != header.Checksum {
		return nil, nil, fmt.Errorf("%w: header %s, body %s", ErrChecksumMismatch, header.Checksum, got)
	}

	// The header is not covered by the checksum, so the count only bounds
	// the capacity hint, never the allocation.
	edges := make([]proto.PackEdge, 0, min(header.Count, len(body)/minEdgeLineLen))
	scanner := bufio.NewScanner(bytes.NewReader(body))
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var pe proto.PackEdge
		if err := json.Unmarshal(line, &pe); err != nil {
			return nil, nil, fmt.Errorf("parsing edge %d: %w", len(edges), err)
		}
		edges = append(edges, pe)
	}
	if err := scanner.Err(); err != nil {
		return nil, nil, fmt.Errorf("reading body: %w", err)
	}
	if len(edges) != header.Count {
		return nil, nil, fmt.Errorf("%w: header count %d, body has %d edges", ErrMalformed, header.Count, len(edges))
	}
	return &header, edges, nil
}

// Export writes every direct edge of the store to w.
func Export(ctx context.Context, store *db.DB, w io.Writer) (*proto.PackHeader, error) {
	edges, err := store.ListDirectEdges(ctx)
	if err != nil {
		return nil, err
	}
	data, header, err := BuildPack(store.Schema(), edges)
	if err != nil {
		return nil, err
	}
	if _, err := w.Write(data); err != nil {
		return nil, fmt.Errorf("writing pack: %w", err)
	}
	ctxlog.FromContext(ctx).Info("pack exported",
		"pack_id", header.PackID, "edges", header.Count, "bytes", len(data))
	return header, nil
}

// Import reads a pack and creates its edges in one transaction. Types are
// matched by column name, so the target schema may order its columns
// differently or carry extra ones.
func Import(ctx context.Context, store *db.DB, r io.Reader) (*proto.PackHeader, []closure.Edge, error) {
	header, packEdges, err := ParsePack(r)
	if err != nil {
		return nil, nil, err
	}

	schema := store.Schema()
	specs := make([]db.EdgeSpec, 0, len(packEdges))
	for _, pe := range packEdges {
		slot, ok := schema.SlotOf(pe.Type)
		if !ok {
			return nil, nil, fmt.Errorf("%w: %q", ErrUnknownType, pe.Type)
		}
		specs = append(specs, db.EdgeSpec{
			From:  pe.From,
			To:    pe.To,
			Types: closure.OneHot(schema.Width(), slot),
		})
	}

	created, err := store.ImportEdges(ctx, specs)
	if err != nil {
		return nil, nil, fmt.Errorf("importing pack %s: %w", header.PackID, err)
	}
	return header, created, nil
}
