package tlsconfig

import (
    "crypto/ecdsa"
    "crypto/elliptic"
    "crypto/rand"
    "crypto/tls"
    "crypto/x509"
    "crypto/x509/pkix"
    "encoding/pem"
    "math/big"
    "os"
    "path/filepath"
    "testing"
    "time"

    "github.com/stretchr/testify/require"
)

// selfSigned writes a CA-capable self-signed pair and returns the paths.
func selfSigned(t *testing.T, dir, name string) (certPath, keyPath string) {
    t.Helper()
    key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
    require.NoError(t, err)
    tmpl := &x509.Certificate{
        SerialNumber:          big.NewInt(time.Now().UnixNano()),
        Subject:               pkix.Name{CommonName: name},
        DNSNames:              []string{name},
        NotBefore:             time.Now().Add(-time.Hour),
        NotAfter:              time.Now().Add(time.Hour),
        IsCA:                  true,
        BasicConstraintsValid: true,
        KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageDigitalSignature,
        ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth, x509.ExtKeyUsageClientAuth},
    }
    der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
    require.NoError(t, err)
    kb, err := x509.MarshalECPrivateKey(key)
    require.NoError(t, err)
    certPath, keyPath = filepath.Join(dir, name+".crt"), filepath.Join(dir, name+".key")
    require.NoError(t, os.WriteFile(certPath, pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der}), 0o600))
    require.NoError(t, os.WriteFile(keyPath, pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: kb}), 0o600))
    return certPath, keyPath
}

func TestDisabledReturnsNil(t *testing.T) {
    s, err := Options{}.Server()
    require.NoError(t, err)
    require.Nil(t, s)
    c, err := Options{}.Client()
    require.NoError(t, err)
    require.Nil(t, c)
}

func TestServerRequiresKeyPair(t *testing.T) {
    _, err := Options{Enable: true}.Server()
    require.Error(t, err)
}

func TestMutualTLSConfigs(t *testing.T) {
    dir := t.TempDir()
    crt, key := selfSigned(t, dir, "hub.local")
    srv, err := Options{Enable: true, CAFile: crt, CertFile: crt, KeyFile: key, Reload: time.Minute}.Server()
    require.NoError(t, err)
    require.Equal(t, tls.RequireAndVerifyClientCert, srv.ClientAuth)
    cert, err := srv.GetCertificate(nil)
    require.NoError(t, err)
    require.NotEmpty(t, cert.Certificate)

    cli, err := Options{Enable: true, CAFile: crt, CertFile: crt, KeyFile: key, ServerName: "hub.local"}.Client()
    require.NoError(t, err)
    require.NotNil(t, cli.RootCAs)
    require.Equal(t, "hub.local", cli.ServerName)
    cc, err := cli.GetClientCertificate(nil)
    require.NoError(t, err)
    require.Equal(t, cert.Certificate[0], cc.Certificate[0])
}

func TestBadCAFile(t *testing.T) {
    dir := t.TempDir()
    bad := filepath.Join(dir, "ca.pem")
    require.NoError(t, os.WriteFile(bad, []byte("nope"), 0o600))
    _, err := Options{Enable: true, CAFile: bad}.Client()
    require.Error(t, err)
}

func TestReloadKeepsLastGoodCertificate(t *testing.T) {
    dir := t.TempDir()
    crt, key := selfSigned(t, dir, "n1")
    l := &certLoader{cert: crt, key: key, ttl: time.Nanosecond}
    first, err := l.get()
    require.NoError(t, err)
    require.NoError(t, os.Remove(key))
    time.Sleep(time.Millisecond)
    again, err := l.get()
    require.NoError(t, err)
    require.Same(t, first, again)
}
