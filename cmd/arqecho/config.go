package main

import (
	"github.com/BurntSushi/toml"
	"github.com/pkg/errors"
)

// configRepr mirrors the teacher's configRepr: a flat struct of
// toml-tagged fields decoded once at startup.
type configRepr struct {
	Conv uint32 `toml:"conv"` // 0 means "mint one with xid"

	Client struct {
		Listen string `toml:"listen"`
		Remote string `toml:"remote"`
	} `toml:"client"`

	Server struct {
		Listen string `toml:"listen"`
	} `toml:"server"`

	Tuning struct {
		Mtu      int  `toml:"mtu"`
		Interval int  `toml:"interval"`
		NoDelay  bool `toml:"nodelay"`
		Resend   int  `toml:"resend"`
		NoCwnd   bool `toml:"nocwnd"`
		SndWnd   int  `toml:"snd_wnd"`
		RcvWnd   int  `toml:"rcv_wnd"`
	} `toml:"tuning"`

	Metrics struct {
		Listen string `toml:"listen"`
	} `toml:"metrics"`
}

func newConfigRepr(fpath string) (*configRepr, error) {
	var conf configRepr
	if _, err := toml.DecodeFile(fpath, &conf); err != nil {
		return nil, errors.WithStack(err)
	}
	if conf.Client.Listen == "" {
		conf.Client.Listen = "127.0.0.1:0"
	}
	if conf.Server.Listen == "" {
		conf.Server.Listen = "127.0.0.1:17171"
	}
	if conf.Client.Remote == "" {
		conf.Client.Remote = conf.Server.Listen
	}
	if conf.Tuning.Mtu == 0 {
		conf.Tuning.Mtu = 1400
	}
	if conf.Tuning.Interval == 0 {
		conf.Tuning.Interval = 10
	}
	if conf.Metrics.Listen == "" {
		conf.Metrics.Listen = "127.0.0.1:9116"
	}
	return &conf, nil
}
