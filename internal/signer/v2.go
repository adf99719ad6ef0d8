package signer

import (
	"bytes"
	"context"
	"crypto"
	"crypto/ecdsa"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/binary"
	"io"
	"os"
	"path/filepath"
	"runtime"

	"github.com/minio/sha256-simd"
	"golang.org/x/sync/errgroup"

	"github.com/antisplit/internal/archive"
	"github.com/antisplit/internal/binio"
	apperrors "github.com/antisplit/pkg/errors"
	"github.com/antisplit/pkg/utils"
)

// Signature algorithm ids of the v2 scheme.
const (
	AlgRSAPKCS1SHA256 uint32 = 0x0103
	AlgECDSASHA256    uint32 = 0x0201
)

const chunkSize = 1 << 20

func algorithmFor(pub crypto.PublicKey) (uint32, error) {
	switch pub.(type) {
	case *rsa.PublicKey:
		return AlgRSAPKCS1SHA256, nil
	case *ecdsa.PublicKey:
		return AlgECDSASHA256, nil
	default:
		return 0, apperrors.Newf(apperrors.CodeSigningError, "unsupported public key %T", pub)
	}
}

type span struct {
	ra  io.ReaderAt
	off int64
	n   int64
}

// ContentDigest computes the v2 chunked SHA-256 digest over the entries,
// the central directory and the end record of the archive, with the end
// record pointing at the start of the signing block.
func ContentDigest(ctx context.Context, ra io.ReaderAt, l *archive.Layout) ([]byte, error) {
	entriesEnd := l.EntriesEnd()
	eocd := l.EOCDWithOffset(entriesEnd)
	sections := []span{
		{ra, 0, entriesEnd},
		{ra, l.CDOffset, l.CDSize},
		{bytes.NewReader(eocd), 0, int64(len(eocd))},
	}

	var chunks []span
	for _, s := range sections {
		for off := int64(0); off < s.n; off += chunkSize {
			n := s.n - off
			if n > chunkSize {
				n = chunkSize
			}
			chunks = append(chunks, span{s.ra, s.off + off, n})
		}
	}

	digests := make([]byte, len(chunks)*sha256.Size)
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.NumCPU())
	for i, c := range chunks {
		i, c := i, c
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return apperrors.Wrapf(apperrors.CodeCanceled, err, "digest")
			}
			buf := make([]byte, c.n)
			if _, err := c.ra.ReadAt(buf, c.off); err != nil && err != io.EOF {
				return apperrors.IO(err, "read chunk at %d", c.off)
			}
			h := sha256.New()
			var head [5]byte
			head[0] = 0xa5
			binary.LittleEndian.PutUint32(head[1:], uint32(c.n))
			h.Write(head[:])
			h.Write(buf)
			copy(digests[i*sha256.Size:], h.Sum(nil))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	top := sha256.New()
	var head [5]byte
	head[0] = 0x5a
	binary.LittleEndian.PutUint32(head[1:], uint32(len(chunks)))
	top.Write(head[:])
	top.Write(digests)
	return top.Sum(nil), nil
}

func writePrefixed(w *binio.Writer, b []byte) {
	w.WriteUint32(uint32(len(b)))
	_, _ = w.Write(b)
}

func signedData(alg uint32, digest []byte, cert *x509.Certificate) []byte {
	d := binio.NewWriter(8 + len(digest))
	d.WriteUint32(alg)
	writePrefixed(d, digest)
	digests := binio.NewWriter(d.Len() + 4)
	writePrefixed(digests, d.Bytes())

	certs := binio.NewWriter(len(cert.Raw) + 4)
	writePrefixed(certs, cert.Raw)

	out := binio.NewWriter(digests.Len() + certs.Len() + 12)
	writePrefixed(out, digests.Bytes())
	writePrefixed(out, certs.Bytes())
	writePrefixed(out, nil)
	return out.Bytes()
}

// BuildV2 returns the value of the v2 signing block record for an archive
// with the given content digest.
func BuildV2(key *Key, digest []byte) ([]byte, error) {
	alg, err := algorithmFor(key.Signer.Public())
	if err != nil {
		return nil, err
	}
	sd := signedData(alg, digest, key.Certificate)
	h := sha256.Sum256(sd)
	sig, err := key.Signer.Sign(rand.Reader, h[:], crypto.SHA256)
	if err != nil {
		return nil, apperrors.Wrapf(apperrors.CodeSigningError, err, "sign")
	}
	pub, err := x509.MarshalPKIXPublicKey(key.Signer.Public())
	if err != nil {
		return nil, apperrors.Wrapf(apperrors.CodeSigningError, err, "marshal public key")
	}

	s := binio.NewWriter(len(sig) + 8)
	s.WriteUint32(alg)
	writePrefixed(s, sig)
	sigs := binio.NewWriter(s.Len() + 4)
	writePrefixed(sigs, s.Bytes())

	signer := binio.NewWriter(len(sd) + sigs.Len() + len(pub) + 12)
	writePrefixed(signer, sd)
	writePrefixed(signer, sigs.Bytes())
	writePrefixed(signer, pub)

	signers := binio.NewWriter(signer.Len() + 4)
	writePrefixed(signers, signer.Bytes())
	out := binio.NewWriter(signers.Len() + 4)
	writePrefixed(out, signers.Bytes())
	return out.Bytes(), nil
}

// Sign computes the signing block for the archive. Records of other
// signature schemes are dropped since the archive content changed.
func Sign(ctx context.Context, ra io.ReaderAt, size int64, key *Key) (*archive.SigningBlock, *archive.Layout, error) {
	l, err := archive.ReadLayout(ra, size)
	if err != nil {
		return nil, nil, err
	}
	digest, err := ContentDigest(ctx, ra, l)
	if err != nil {
		return nil, nil, err
	}
	value, err := BuildV2(key, digest)
	if err != nil {
		return nil, nil, err
	}

	block, err := archive.ReadSigningBlock(ra, l)
	if err != nil {
		return nil, nil, err
	}
	if block == nil {
		block = archive.NewSigningBlock()
	}
	for _, id := range []uint32{archive.SignatureV3ID, archive.SignatureV31ID, archive.SourceStampV2ID} {
		block.Remove(id)
	}
	block.Put(archive.SignatureV2ID, value)
	block.UpdatePadding()
	return block, l, nil
}

// SignFile signs the APK at path in place.
func SignFile(ctx context.Context, path string, key *Key, logger utils.Logger) error {
	if logger == nil {
		logger = &utils.NullLogger{}
	}

	f, err := os.Open(path)
	if err != nil {
		return apperrors.IO(err, "open %s", path)
	}
	defer f.Close()
	st, err := f.Stat()
	if err != nil {
		return apperrors.IO(err, "stat %s", path)
	}

	block, l, err := Sign(ctx, f, st.Size(), key)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".sign-*")
	if err != nil {
		return apperrors.IO(err, "create temp file")
	}
	defer os.Remove(tmp.Name())
	if err := archive.Splice(f, l, block, tmp); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return apperrors.IO(err, "close %s", tmp.Name())
	}
	f.Close()
	if err := os.Rename(tmp.Name(), path); err != nil {
		return apperrors.IO(err, "replace %s", path)
	}
	logger.WithField("block_size", block.CountBytes()).Debug("signed %s", filepath.Base(path))
	return nil
}
