package modelsync

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/pkg/sftp"
	"github.com/rs/zerolog/log"

	"github.com/akash-s-simformsolutions/auto-worker-a1111/internal/config"
	"github.com/akash-s-simformsolutions/auto-worker-a1111/internal/sshx"
)

// Syncer pulls model weight files from a remote host over SFTP. It is the
// fallback for workers whose network volume was not provisioned: the models
// directory is populated from the configured source host instead, with each
// file verified against the remote sha256.
type Syncer struct {
	cfg    config.Config
	client *sshx.Client
}

// New builds a syncer from the sync section of the configuration.
func New(cfg config.Config) (*Syncer, error) {
	signer, err := sshx.LoadPrivateKeySigner(cfg.Sync.KeyPath)
	if err != nil {
		return nil, fmt.Errorf("load sync key: %w", err)
	}
	kh, err := sshx.LoadKnownHostsCallback(cfg.Sync.KnownHosts)
	if err != nil {
		return nil, fmt.Errorf("load known hosts: %w", err)
	}
	return &Syncer{
		cfg: cfg,
		client: &sshx.Client{
			Addr:       fmt.Sprintf("%s:%d", cfg.Sync.Host, cfg.Sync.Port),
			User:       cfg.Sync.User,
			Signer:     signer,
			KnownHosts: kh,
			Timeout:    30 * time.Second,
			Retries:    2,
			Backoff:    500 * time.Millisecond,
		},
	}, nil
}

// Pull mirrors the remote model tree into destDir. Files already present
// with a matching size are skipped; everything else is downloaded and
// checksum-verified.
func (s *Syncer) Pull(ctx context.Context, destDir string) error {
	cli, err := sshx.Dial(ctx, s.client)
	if err != nil {
		return fmt.Errorf("dial sync host: %w", err)
	}
	defer cli.Close()

	sf, err := sftp.NewClient(cli)
	if err != nil {
		return fmt.Errorf("sftp client: %w", err)
	}
	defer sf.Close()

	walker := sf.Walk(s.cfg.Sync.RemotePath)
	count := 0
	for walker.Step() {
		if err := walker.Err(); err != nil {
			return fmt.Errorf("walk remote tree: %w", err)
		}
		if walker.Stat().IsDir() {
			continue
		}
		remote := walker.Path()
		rel := strings.TrimPrefix(remote, s.cfg.Sync.RemotePath)
		local := filepath.Join(destDir, filepath.FromSlash(rel))

		if st, err := os.Stat(local); err == nil && st.Size() == walker.Stat().Size() {
			continue
		}
		if err := s.pullFile(ctx, sf, remote, local); err != nil {
			return err
		}
		count++
	}
	log.Info().Int("files", count).Str("dest", destDir).Msg("Model sync complete")
	return nil
}

// pullFile downloads one file and verifies its sha256 against the remote.
func (s *Syncer) pullFile(ctx context.Context, sf *sftp.Client, remotePath, localPath string) error {
	if err := os.MkdirAll(filepath.Dir(localPath), 0755); err != nil {
		return fmt.Errorf("mkdir local: %w", err)
	}
	src, err := sf.Open(remotePath)
	if err != nil {
		return fmt.Errorf("open remote %s: %w", remotePath, err)
	}
	defer src.Close()

	tmp := localPath + ".partial"
	dst, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("create local: %w", err)
	}

	hasher := sha256.New()
	_, err = io.Copy(io.MultiWriter(dst, hasher), src)
	closeErr := dst.Close()
	if err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("copy %s: %w", remotePath, err)
	}
	if closeErr != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("close local: %w", closeErr)
	}

	localSum := hex.EncodeToString(hasher.Sum(nil))
	remoteSum, err := s.remoteChecksum(ctx, remotePath)
	if err != nil {
		_ = os.Remove(tmp)
		return err
	}
	if localSum != remoteSum {
		_ = os.Remove(tmp)
		return fmt.Errorf("checksum mismatch for %s: expected %s, got %s", path.Base(remotePath), remoteSum, localSum)
	}
	if err := os.Rename(tmp, localPath); err != nil {
		return fmt.Errorf("finalize %s: %w", localPath, err)
	}
	log.Debug().Str("file", localPath).Msg("Model file pulled")
	return nil
}

// remoteChecksum asks the source host for a file's sha256.
func (s *Syncer) remoteChecksum(ctx context.Context, remotePath string) (string, error) {
	out, err := s.client.RunCommand(ctx, fmt.Sprintf("sha256sum %q | cut -d' ' -f1", remotePath))
	if err != nil {
		return "", fmt.Errorf("remote checksum: %w", err)
	}
	return strings.TrimSpace(out), nil
}

// ChecksumFile calculates the sha256 of a local file.
func ChecksumFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	hasher := sha256.New()
	if _, err := io.Copy(hasher, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(hasher.Sum(nil)), nil
}
