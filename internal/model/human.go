// human readable and writable stdlib types
// which can be used inside config file
package model

import (
	"errors"
	"net"
	"net/url"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type URL struct {
	*url.URL
}

func (u URL) AsURL() *url.URL {
	return u.URL
}

func (u URL) Clone() URL {
	if u.URL == nil {
		return URL{}
	}

	clone := &url.URL{
		Scheme:      u.Scheme,
		Opaque:      u.Opaque,
		Host:        u.Host,
		Path:        u.Path,
		RawPath:     u.RawPath,
		OmitHost:    u.OmitHost,
		ForceQuery:  u.ForceQuery,
		RawQuery:    u.RawQuery,
		Fragment:    u.Fragment,
		RawFragment: u.RawFragment,
	}

	if u.User != nil {
		if password, ok := u.User.Password(); ok {
			clone.User = url.UserPassword(u.User.Username(), password)
		} else {
			clone.User = url.User(u.User.Username())
		}
	}

	return URL{URL: clone}
}

func (u *URL) UnmarshalText(text []byte) error {
	if u == nil {
		return errors.New("can't unmarshal to nil")
	}
	parsed, err := url.Parse(os.ExpandEnv(string(text)))
	if err != nil {
		return err
	}
	u.URL = parsed
	return nil
}

func (u URL) MarshalText() ([]byte, error) {
	if u.URL == nil {
		return []byte{}, nil
	}
	return []byte(u.String()), nil
}

// yaml.v3 does not consult encoding.TextUnmarshaler, so route it manually.
func (u *URL) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}
	return u.UnmarshalText([]byte(s))
}

func (u URL) MarshalYAML() (any, error) {
	b, err := u.MarshalText()
	return string(b), err
}

type TCPAddr struct {
	*net.TCPAddr
}

func (addr *TCPAddr) AsTCPAddr() *net.TCPAddr {
	return addr.TCPAddr
}

func (addr *TCPAddr) UnmarshalText(text []byte) error {
	if addr == nil {
		return errors.New("can't unmarshal to nil")
	}
	if len(text) == 0 {
		return errors.New("can't be empty")
	}
	expanded := os.ExpandEnv(string(text))
	parsed, err := net.ResolveTCPAddr("tcp", expanded)
	if err != nil {
		return err
	}
	addr.TCPAddr = parsed
	return nil
}

func (addr TCPAddr) MarshalText() ([]byte, error) {
	if addr.TCPAddr == nil {
		return []byte{}, nil
	}
	return []byte(addr.String()), nil
}

func (addr *TCPAddr) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}
	return addr.UnmarshalText([]byte(s))
}

func (addr TCPAddr) MarshalYAML() (any, error) {
	b, err := addr.MarshalText()
	return string(b), err
}

type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	if d == nil {
		return errors.New("can't unmarshal to nil")
	}
	if len(text) == 0 {
		d.Duration = 0
		return nil
	}
	parsed, err := time.ParseDuration(os.ExpandEnv(string(text)))
	if err != nil {
		return err
	}
	d.Duration = parsed
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	if d.Duration == 0 {
		return []byte{}, nil
	}
	return []byte(d.String()), nil
}

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}
	return d.UnmarshalText([]byte(s))
}

func (d Duration) MarshalYAML() (any, error) {
	b, err := d.MarshalText()
	return string(b), err
}
