package config

import (
	"fmt"
	"os"
)

func Template() string {
	return daemonTemplate
}

func WriteTemplate(path string, overwrite bool) error {
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config already exists: %s", path)
		}
	}
	return os.WriteFile(path, []byte(daemonTemplate), 0o600)
}

const daemonTemplate = `endpoint = "http://localhost:8085"
network = "consortium"
service_root = "scabbard"
# PEM bundle for https endpoints; leave empty to use the system trust store
ca_cert = ""

[stream]
reconnect = true
reconnect_limit = 10
idle_timeout_seconds = 60
handshake_timeout_seconds = 10

[queue]
addr = "localhost:6379"
password = ""
db = 0
topic = "consortium-events"

[store]
path = "consortiumd.db"

[metrics]
# leave empty to disable the metrics listener
addr = ""

[contract]
name = "consortium"
version = "1.0"
prefix = "cad1b2"
path = "consortium.wasm"

[signing]
# 64 hex characters; leave empty to generate an ephemeral key at startup
key = ""
`
