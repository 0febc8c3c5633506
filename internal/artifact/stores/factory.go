package stores

import (
	"github.com/orthovision/orthovision/internal/artifact"
	"github.com/orthovision/orthovision/internal/conf"
	"github.com/orthovision/orthovision/internal/errors"
	"github.com/orthovision/orthovision/internal/httpclient"
	"github.com/orthovision/orthovision/internal/logger"
	"github.com/orthovision/orthovision/internal/secrets"
)

// New builds the store selected by settings.Store.Type. client is used by
// the hub store; nil creates one with the hub timeout.
func New(settings *conf.ArtifactSettings, client *httpclient.Client, lg logger.Logger) (artifact.Store, error) {
	if lg == nil {
		lg = GetLogger()
	}
	s := settings.Store

	switch s.Type {
	case conf.StoreHub, "":
		token, err := secrets.Resolve(settings.TokenFile, settings.Token)
		if err != nil {
			return nil, credentialError("artifacts.token", err)
		}
		if client == nil {
			client = httpclient.New(&httpclient.Config{DefaultTimeout: s.Hub.Timeout})
		}
		return asStore(NewHub(HubConfig{
			Endpoint:   s.Hub.Endpoint,
			Repository: s.Hub.Repository,
			Revision:   s.Hub.Revision,
			Token:      token,
			CacheTTL:   s.Hub.CacheTTL,
			MaxRetries: s.Hub.MaxRetries,
		}, client, lg))
	case conf.StoreFTP:
		password, err := secrets.Resolve(s.FTP.PasswordFile, s.FTP.Password)
		if err != nil {
			return nil, credentialError("artifacts.store.ftp.password", err)
		}
		return asStore(NewFTP(FTPConfig{
			Host:     s.FTP.Host,
			Port:     s.FTP.Port,
			Username: s.FTP.Username,
			Password: password,
			BasePath: s.FTP.Path,
			Timeout:  s.FTP.Timeout,
			MaxConns: s.FTP.MaxConns,
		}, lg))
	case conf.StoreSFTP:
		password, err := secrets.Resolve(s.SFTP.PasswordFile, s.SFTP.Password)
		if err != nil {
			return nil, credentialError("artifacts.store.sftp.password", err)
		}
		return asStore(NewSFTP(SFTPConfig{
			Host:           s.SFTP.Host,
			Port:           s.SFTP.Port,
			Username:       s.SFTP.Username,
			Password:       password,
			KeyFile:        s.SFTP.KeyFile,
			KnownHostsFile: s.SFTP.KnownHostsFile,
			BasePath:       s.SFTP.Path,
			Timeout:        s.SFTP.Timeout,
		}, lg))
	case conf.StoreLocal:
		return asStore(NewLocal(s.Local.Path, lg))
	default:
		return nil, errors.Newf("unknown artifact store type %q", s.Type).
			Component("artifact-store").
			Category(errors.CategoryConfiguration).
			Build()
	}
}

func credentialError(field string, err error) error {
	return errors.New(err).
		Component("artifact-store").
		Category(errors.CategoryConfiguration).
		Context("field", field).
		Build()
}

// asStore keeps a failed constructor from yielding a typed nil store.
func asStore(s artifact.Store, err error) (artifact.Store, error) {
	if err != nil {
		return nil, err
	}
	return s, nil
}

// Descriptors converts configured artifact files into descriptors.
func Descriptors(files []conf.ArtifactFile) []artifact.Descriptor {
	out := make([]artifact.Descriptor, 0, len(files))
	for _, f := range files {
		remote := f.Remote
		if remote == "" {
			remote = f.Filename
		}
		out = append(out, artifact.Descriptor{Name: f.Name, Filename: f.Filename, RemoteID: remote})
	}
	return out
}
