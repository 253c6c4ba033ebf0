package config

import (
	"fmt"
	"os"
	"strings"
)

func Template(kind string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "acquisition":
		return acquisitionTemplate, nil
	case "service":
		return serviceTemplate, nil
	case "iocsim":
		return iocsimTemplate, nil
	default:
		return "", fmt.Errorf("unknown config kind: %s", kind)
	}
}

func WriteTemplate(path, kind string, overwrite bool) error {
	template, err := Template(kind)
	if err != nil {
		return err
	}
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config already exists: %s", path)
		}
	}
	return os.WriteFile(path, []byte(template), 0o600)
}

const acquisitionTemplate = `name = "acqctl"
directory = "/tmp/acqctl"
filename_prefix = "scan-"
simulate = true

[[detectors]]
id = "cam1"
kind = "ad"
prefix = "BL01:CAM1:"
exposure = 0.1

[[detectors]]
id = "pilatus"
kind = "pilatus"
prefix = "BL01:PIL:"
exposure = 0.05
timeout_sec = 5
`

const serviceTemplate = `id = "acqctl"
acquisition_config = "acquisition.toml"
db_path = "acqctl.db"
admin_addr = ""
admin_token = ""
cors_origins = ["http://localhost:3000"]
connect_timeout_sec = 10
connect_attempts = 3
count = 1
detectors = []
# leave ioc_addr empty to simulate in process; set simulate = false in the
# acquisition config to use it
ioc_addr = "127.0.0.1:5064"
session_security_mode = "development"
session_request_timeout_sec = 10
session_tls_enabled = false
session_tls_mutual = false
session_tls_cert_file = ""
session_tls_key_file = ""
session_tls_ca_file = ""
`

const iocsimTemplate = `id = "iocsim"
acquisition_config = "../acqctl/acquisition.toml"
listen_addr = "127.0.0.1:5064"
session_security_mode = "development"
session_tls_enabled = false
session_tls_mutual = false
session_tls_cert_file = ""
session_tls_key_file = ""
session_tls_ca_file = ""
`
