package config

import (
	"context"
	"fmt"
	"time"

	"github.com/mitchellh/mapstructure"

	"github.com/polystore/polystore/pkg/storage"
	"github.com/polystore/polystore/pkg/storage/corpus"
	"github.com/polystore/polystore/pkg/storage/fingerprint"
	"github.com/polystore/polystore/pkg/storage/httpstore"
	"github.com/polystore/polystore/pkg/storage/local"
	s3backend "github.com/polystore/polystore/pkg/storage/s3"
	sshbackend "github.com/polystore/polystore/pkg/storage/ssh"
	swiftbackend "github.com/polystore/polystore/pkg/storage/swift"
)

// decodeOptions decodes a raw option map into a typed config struct.
func decodeOptions(options map[string]any, out any) error {
	if err := mapstructure.Decode(options, out); err != nil {
		return fmt.Errorf("failed to decode options: %w", err)
	}
	return nil
}

// CreateBackend builds the backend described by cfg. Unknown types are a
// configuration error. fps may be nil when fingerprinting is disabled.
func CreateBackend(ctx context.Context, storageID string, cfg StorageConfig, fps fingerprint.Store) (storage.Backend, error) {
	switch cfg.Type {
	case "local":
		return createLocalBackend(storageID, cfg.Options)
	case "s3":
		return createS3Backend(ctx, storageID, cfg.Options, fps)
	case "ssh":
		return createSSHBackend(storageID, cfg.Options)
	case "swift":
		return createSwiftBackend(ctx, storageID, cfg.Options, fps)
	case "http":
		return createHTTPBackend(storageID, cfg.Options)
	case "corpus":
		return createCorpusBackend(storageID, cfg.Options, fps)
	default:
		return nil, fmt.Errorf("storage %s: unknown storage type %q", storageID, cfg.Type)
	}
}

func createLocalBackend(storageID string, options map[string]any) (storage.Backend, error) {
	type LocalOptions struct {
		Basedir string `mapstructure:"basedir"`
	}

	var opts LocalOptions
	if err := decodeOptions(options, &opts); err != nil {
		return nil, fmt.Errorf("storage %s: %w", storageID, err)
	}

	return local.New(storageID, opts.Basedir), nil
}

func createS3Backend(ctx context.Context, storageID string, options map[string]any, fps fingerprint.Store) (storage.Backend, error) {
	type S3Options struct {
		Bucket          string `mapstructure:"bucket"`
		Region          string `mapstructure:"region"`
		Endpoint        string `mapstructure:"endpoint"`
		AccessKeyID     string `mapstructure:"access_key_id"`
		SecretAccessKey string `mapstructure:"secret_access_key"`
		Basedir         string `mapstructure:"basedir"`
		MaxRetries      int    `mapstructure:"max_retries"`
	}

	var opts S3Options
	if err := decodeOptions(options, &opts); err != nil {
		return nil, fmt.Errorf("storage %s: %w", storageID, err)
	}

	return s3backend.New(ctx, storageID, s3backend.Options{
		Bucket:          opts.Bucket,
		Region:          opts.Region,
		Endpoint:        opts.Endpoint,
		AccessKeyID:     opts.AccessKeyID,
		SecretAccessKey: opts.SecretAccessKey,
		Basedir:         opts.Basedir,
		MaxRetries:      opts.MaxRetries,
	}, fps)
}

func createSSHBackend(storageID string, options map[string]any) (storage.Backend, error) {
	type SSHOptions struct {
		Server   string `mapstructure:"server"`
		Port     int    `mapstructure:"port"`
		User     string `mapstructure:"user"`
		Password string `mapstructure:"password"`
		PKey     string `mapstructure:"pkey"`
		PKeyPath string `mapstructure:"pkey_path"`
		Basedir  string `mapstructure:"basedir"`
		Timeout  int    `mapstructure:"timeout"`
	}

	var opts SSHOptions
	if err := decodeOptions(options, &opts); err != nil {
		return nil, fmt.Errorf("storage %s: %w", storageID, err)
	}

	return sshbackend.New(storageID, sshbackend.Options{
		Server:   opts.Server,
		Port:     opts.Port,
		User:     opts.User,
		Password: opts.Password,
		PKey:     opts.PKey,
		PKeyPath: opts.PKeyPath,
		Basedir:  opts.Basedir,
		Timeout:  time.Duration(opts.Timeout) * time.Second,
	})
}

func createSwiftBackend(ctx context.Context, storageID string, options map[string]any, fps fingerprint.Store) (storage.Backend, error) {
	type SwiftOptions struct {
		Container string `mapstructure:"container"`
		AuthURL   string `mapstructure:"auth_url"`
		UserName  string `mapstructure:"user_name"`
		APIKey    string `mapstructure:"api_key"`
		Tenant    string `mapstructure:"tenant"`
		Domain    string `mapstructure:"domain"`
		Region    string `mapstructure:"region"`
		Basedir   string `mapstructure:"basedir"`
		Timeout   int    `mapstructure:"timeout"`
	}

	var opts SwiftOptions
	if err := decodeOptions(options, &opts); err != nil {
		return nil, fmt.Errorf("storage %s: %w", storageID, err)
	}

	return swiftbackend.New(ctx, storageID, swiftbackend.Options{
		Container: opts.Container,
		AuthURL:   opts.AuthURL,
		User:      opts.UserName,
		Key:       opts.APIKey,
		Tenant:    opts.Tenant,
		Domain:    opts.Domain,
		Region:    opts.Region,
		Basedir:   opts.Basedir,
		Timeout:   time.Duration(opts.Timeout) * time.Second,
	}, fps)
}

func createHTTPBackend(storageID string, options map[string]any) (storage.Backend, error) {
	type HTTPOptions struct {
		GetPattern  string `mapstructure:"get_pattern"`
		PostPattern string `mapstructure:"post_pattern"`
		ListPattern string `mapstructure:"list_pattern"`
		Timeout     int    `mapstructure:"timeout"`
	}

	var opts HTTPOptions
	if err := decodeOptions(options, &opts); err != nil {
		return nil, fmt.Errorf("storage %s: %w", storageID, err)
	}

	return httpstore.New(storageID, httpstore.Options{
		GetPattern:  opts.GetPattern,
		PostPattern: opts.PostPattern,
		ListPattern: opts.ListPattern,
		Timeout:     time.Duration(opts.Timeout) * time.Second,
	})
}

func createCorpusBackend(storageID string, options map[string]any, fps fingerprint.Store) (storage.Backend, error) {
	type CorpusOptions struct {
		HostURL    string `mapstructure:"host_url"`
		AccountID  string `mapstructure:"account_id"`
		RootFolder string `mapstructure:"root_folder"`
		Timeout    int    `mapstructure:"timeout"`
	}

	var opts CorpusOptions
	if err := decodeOptions(options, &opts); err != nil {
		return nil, fmt.Errorf("storage %s: %w", storageID, err)
	}

	return corpus.New(storageID, corpus.Options{
		HostURL:    opts.HostURL,
		AccountID:  opts.AccountID,
		RootFolder: opts.RootFolder,
		Timeout:    time.Duration(opts.Timeout) * time.Second,
	}, fps)
}
