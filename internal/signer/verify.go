package signer

import (
	"bytes"
	"context"
	"crypto"
	"crypto/ecdsa"
	"crypto/rsa"
	"crypto/x509"
	"io"
	"os"

	"github.com/minio/sha256-simd"

	"github.com/antisplit/internal/archive"
	"github.com/antisplit/internal/binio"
	apperrors "github.com/antisplit/pkg/errors"
)

// SignerInfo describes one verified v2 signer.
type SignerInfo struct {
	Algorithm   uint32
	Certificate *x509.Certificate
}

func readPrefixed(r *binio.Reader) (*binio.Reader, error) {
	n, err := r.ReadUint32()
	if err != nil {
		return nil, err
	}
	return r.Sub(int(n))
}

func verifyError(format string, args ...interface{}) error {
	return apperrors.Newf(apperrors.CodeSigningError, "v2: "+format, args...)
}

// VerifyFile checks the v2 signature of the APK at path.
func VerifyFile(ctx context.Context, path string) ([]SignerInfo, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, apperrors.IO(err, "open %s", path)
	}
	defer f.Close()
	st, err := f.Stat()
	if err != nil {
		return nil, apperrors.IO(err, "stat %s", path)
	}
	return Verify(ctx, f, st.Size())
}

// Verify checks every v2 signer of the archive: the signature over the
// signed data, the certificate's public key and the content digest.
func Verify(ctx context.Context, ra io.ReaderAt, size int64) ([]SignerInfo, error) {
	l, err := archive.ReadLayout(ra, size)
	if err != nil {
		return nil, err
	}
	block, err := archive.ReadSigningBlock(ra, l)
	if err != nil {
		return nil, err
	}
	if block == nil {
		return nil, verifyError("archive has no signing block")
	}
	value, ok := block.Get(archive.SignatureV2ID)
	if !ok {
		return nil, verifyError("no v2 signature record")
	}

	var digest []byte
	contentDigest := func() ([]byte, error) {
		if digest == nil {
			digest, err = ContentDigest(ctx, ra, l)
		}
		return digest, err
	}

	r := binio.NewReader(value)
	signers, err := readPrefixed(r)
	if err != nil {
		return nil, verifyError("truncated signer list")
	}
	var out []SignerInfo
	for signers.Len() > 0 {
		s, err := readPrefixed(signers)
		if err != nil {
			return nil, verifyError("truncated signer")
		}
		info, err := verifySigner(s, contentDigest)
		if err != nil {
			return nil, err
		}
		out = append(out, info)
	}
	if len(out) == 0 {
		return nil, verifyError("no signers")
	}
	return out, nil
}

func verifySigner(r *binio.Reader, contentDigest func() ([]byte, error)) (SignerInfo, error) {
	var info SignerInfo
	sd, err := readPrefixed(r)
	if err != nil {
		return info, verifyError("truncated signed data")
	}
	sigs, err := readPrefixed(r)
	if err != nil {
		return info, verifyError("truncated signatures")
	}
	pubRaw, err := readPrefixed(r)
	if err != nil {
		return info, verifyError("truncated public key")
	}
	pub, err := x509.ParsePKIXPublicKey(pubRaw.Bytes())
	if err != nil {
		return info, apperrors.Wrapf(apperrors.CodeSigningError, err, "v2: parse public key")
	}

	alg, sig, err := pickSignature(sigs)
	if err != nil {
		return info, err
	}
	h := sha256.Sum256(sd.Bytes())
	switch k := pub.(type) {
	case *rsa.PublicKey:
		if alg != AlgRSAPKCS1SHA256 {
			return info, verifyError("algorithm %#x does not match RSA key", alg)
		}
		if err := rsa.VerifyPKCS1v15(k, crypto.SHA256, h[:], sig); err != nil {
			return info, apperrors.Wrapf(apperrors.CodeSigningError, err, "v2: signature")
		}
	case *ecdsa.PublicKey:
		if alg != AlgECDSASHA256 {
			return info, verifyError("algorithm %#x does not match ECDSA key", alg)
		}
		if !ecdsa.VerifyASN1(k, h[:], sig) {
			return info, verifyError("signature does not verify")
		}
	default:
		return info, verifyError("unsupported public key %T", pub)
	}

	digests, err := readPrefixed(sd)
	if err != nil {
		return info, verifyError("truncated digests")
	}
	certs, err := readPrefixed(sd)
	if err != nil {
		return info, verifyError("truncated certificates")
	}

	var signedDigest []byte
	for digests.Len() > 0 {
		d, err := readPrefixed(digests)
		if err != nil {
			return info, verifyError("truncated digest")
		}
		id, _ := d.ReadUint32()
		v, err := readPrefixed(d)
		if err != nil {
			return info, verifyError("truncated digest value")
		}
		if id == alg {
			signedDigest = v.Bytes()
		}
	}
	if signedDigest == nil {
		return info, verifyError("no digest for algorithm %#x", alg)
	}

	certRaw, err := readPrefixed(certs)
	if err != nil {
		return info, verifyError("no certificate")
	}
	cert, err := x509.ParseCertificate(certRaw.Bytes())
	if err != nil {
		return info, apperrors.Wrapf(apperrors.CodeSigningError, err, "v2: parse certificate")
	}
	if !bytes.Equal(cert.RawSubjectPublicKeyInfo, pubRaw.Bytes()) {
		return info, verifyError("certificate does not match public key")
	}

	actual, err := contentDigest()
	if err != nil {
		return info, err
	}
	if !bytes.Equal(actual, signedDigest) {
		return info, verifyError("content digest mismatch")
	}
	return SignerInfo{Algorithm: alg, Certificate: cert}, nil
}

func pickSignature(sigs *binio.Reader) (uint32, []byte, error) {
	for sigs.Len() > 0 {
		s, err := readPrefixed(sigs)
		if err != nil {
			return 0, nil, verifyError("truncated signature")
		}
		alg, err := s.ReadUint32()
		if err != nil {
			return 0, nil, verifyError("truncated signature")
		}
		v, err := readPrefixed(s)
		if err != nil {
			return 0, nil, verifyError("truncated signature value")
		}
		if alg == AlgRSAPKCS1SHA256 || alg == AlgECDSASHA256 {
			return alg, v.Bytes(), nil
		}
	}
	return 0, nil, verifyError("no supported signature")
}
