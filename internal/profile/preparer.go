package profile

import (
	"github.com/prognoza/umg-vpn-poller/internal/fault"
)

// Preparer turns the configured raw profile into a cleaned profile ready for
// either openvpn-gui or the openvpn CLI.
type Preparer struct {
	Input       string // user supplied path or name
	SearchDir   string
	DefaultPath string
	AssetsDir   string
	DeviceIP    string
	// Name overrides the profile name derived from the resolved file.
	Name string
	// GUIConfigDir receives the cleaned profile when installing for the GUI.
	GUIConfigDir string
}

// Prepare resolves the input, writes the cleaned profile and certificates
// into AssetsDir and, when installGUI is set, copies them into
// GUIConfigDir. The returned Resolution points at the cleaned profile.
func (p *Preparer) Prepare(installGUI bool) (Resolution, error) {
	const op = "profile.Prepare"

	res, err := Resolve(p.Input, p.SearchDir, p.DefaultPath)
	if err != nil {
		return Resolution{}, err
	}

	name := p.Name
	if name == "" {
		name = res.Name
	}

	clean, err := PrepareFile(res.ConfigPath, p.AssetsDir, p.DeviceIP, name)
	if err != nil {
		return res, fault.Wrap(fault.KindProcessFailure, op, err)
	}

	if installGUI && p.GUIConfigDir != "" {
		if _, err := Install(clean, p.AssetsDir, p.GUIConfigDir); err != nil {
			return res, fault.Wrap(fault.KindProcessFailure, op, err)
		}
	}

	return Resolution{
		Profile: Profile{Name: name, ConfigPath: clean},
		Message: res.Message,
	}, nil
}
