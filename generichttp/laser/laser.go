// Package laser exposes control of laser controllers over HTTP
package laser

import (
	"encoding/json"
	"net/http"

	"github.com/spacetelescope/catkit/generichttp"
)

// Controller is a basic interface for laser controllers
type Controller interface {
	// SetEmission turns emission on or off
	SetEmission(bool) error

	// GetEmission queries if the laser is currently outputting
	GetEmission() (bool, error)
}

// SetEmission configures the output state of the laser
func SetEmission(c Controller) http.HandlerFunc {
	return generichttp.SetBool(c.SetEmission)
}

// GetEmission queries the output state of the laser
func GetEmission(c Controller) http.HandlerFunc {
	return generichttp.GetBool(c.GetEmission)
}

// CurrentController can control its output current
type CurrentController interface {
	// SetCurrent sets the output current setpoint of the controller, in mA
	SetCurrent(float64) error

	// GetCurrent retrieves the output current setpoint of the controller, in mA
	GetCurrent() (float64, error)
}

// SetCurrent configures the output current of the laser
func SetCurrent(c CurrentController) http.HandlerFunc {
	return generichttp.SetFloat(c.SetCurrent)
}

// GetCurrent queries the output current of the laser
func GetCurrent(c CurrentController) http.HandlerFunc {
	return generichttp.GetFloat(c.GetCurrent)
}

// PowerMeter can sense its output power but not command it
type PowerMeter interface {
	// GetPower retrieves the sensed output power of the device, in mW
	GetPower() (float64, error)
}

// GetPower queries the sensed output power of the laser
func GetPower(c PowerMeter) http.HandlerFunc {
	return generichttp.GetFloat(c.GetPower)
}

// ChannelController is a multi-channel device with one active channel that
// stateful commands apply to
type ChannelController interface {
	// SetActiveChannel selects the channel that stateful commands apply to
	SetActiveChannel(int) error

	// GetActiveChannel retrieves the channel that stateful commands apply to
	GetActiveChannel() (int, error)
}

// SetActiveChannel selects the active channel of the controller
func SetActiveChannel(c ChannelController) http.HandlerFunc {
	return generichttp.SetInt(c.SetActiveChannel)
}

// GetActiveChannel queries the active channel of the controller
func GetActiveChannel(c ChannelController) http.HandlerFunc {
	return generichttp.GetInt(c.GetActiveChannel)
}

// ChannelEnabler can enable and disable output on its active channel,
// distinct from system-wide emission
type ChannelEnabler interface {
	// SetEnabled turns output of the active channel on or off
	SetEnabled(bool) error

	// GetEnabled queries if the active channel's output is on
	GetEnabled() (bool, error)
}

// SetEnabled configures the output state of the active channel
func SetEnabled(c ChannelEnabler) http.HandlerFunc {
	return generichttp.SetBool(c.SetEnabled)
}

// GetEnabled queries the output state of the active channel
func GetEnabled(c ChannelEnabler) http.HandlerFunc {
	return generichttp.GetBool(c.GetEnabled)
}

// TempController has a thermal setpoint and a temperature sense
type TempController interface {
	// SetTargetTemp sets the temperature setpoint of the device, in Celsius
	SetTargetTemp(float64) error

	// GetTargetTemp retrieves the temperature setpoint of the device, in Celsius
	GetTargetTemp() (float64, error)

	// GetTemp retrieves the sensed temperature of the device, in Celsius
	GetTemp() (float64, error)
}

// StepController has a configurable increment for its front panel knob
type StepController interface {
	// SetStep sets the adjustment step size, in mA
	SetStep(float64) error

	// GetStep retrieves the adjustment step size, in mA
	GetStep() (float64, error)
}

// Saver can persist its settings to nonvolatile memory
type Saver interface {
	Save() error
}

// Save persists the device's settings over HTTP
func Save(c Saver) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		err := c.Save()
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}
}

// StatusReporter exposes the device's status word
type StatusReporter interface {
	// StatWord retrieves the raw status word of the device
	StatWord() (uint16, error)

	// Status retrieves the decoded status word as named flags
	Status() (map[string]bool, error)
}

// GetStatWord queries the raw status word of the laser
func GetStatWord(c StatusReporter) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		u, err := c.StatWord()
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		err = json.NewEncoder(w).Encode(map[string]uint16{"statword": u})
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
	}
}

// GetStatus queries the decoded status word of the laser
func GetStatus(c StatusReporter) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		bitmap, err := c.Status()
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		err = json.NewEncoder(w).Encode(bitmap)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
	}
}

// Identifier can describe itself
type Identifier interface {
	// ID retrieves the identifying string of the device
	ID() (string, error)

	// Specs retrieves the specification table of the device
	Specs() (string, error)
}

// HTTPLaserController wraps a laser controller in an HTTP route table
type HTTPLaserController struct {
	// Ctl is the underlying laser controller
	Ctl Controller

	// RouteTable maps URLs to functions
	RouteTable generichttp.RouteTable
}

// NewHTTPLaserController returns a new HTTP wrapper around an existing laser controller
func NewHTTPLaserController(ctl Controller) HTTPLaserController {
	h := HTTPLaserController{Ctl: ctl}
	rt := generichttp.RouteTable{
		generichttp.MethodPath{Method: http.MethodGet, Path: "/emission"}:  GetEmission(ctl),
		generichttp.MethodPath{Method: http.MethodPost, Path: "/emission"}: SetEmission(ctl),
	}
	if currentctl, ok := interface{}(ctl).(CurrentController); ok {
		rt[generichttp.MethodPath{Method: http.MethodGet, Path: "/current"}] = GetCurrent(currentctl)
		rt[generichttp.MethodPath{Method: http.MethodPost, Path: "/current"}] = SetCurrent(currentctl)
	}
	if powermeter, ok := interface{}(ctl).(PowerMeter); ok {
		rt[generichttp.MethodPath{Method: http.MethodGet, Path: "/power"}] = GetPower(powermeter)
	}
	if chanctl, ok := interface{}(ctl).(ChannelController); ok {
		rt[generichttp.MethodPath{Method: http.MethodGet, Path: "/chan"}] = GetActiveChannel(chanctl)
		rt[generichttp.MethodPath{Method: http.MethodPost, Path: "/chan"}] = SetActiveChannel(chanctl)
	}
	if enabler, ok := interface{}(ctl).(ChannelEnabler); ok {
		rt[generichttp.MethodPath{Method: http.MethodGet, Path: "/enable"}] = GetEnabled(enabler)
		rt[generichttp.MethodPath{Method: http.MethodPost, Path: "/enable"}] = SetEnabled(enabler)
	}
	if tempctl, ok := interface{}(ctl).(TempController); ok {
		rt[generichttp.MethodPath{Method: http.MethodGet, Path: "/target-temp"}] = generichttp.GetFloat(tempctl.GetTargetTemp)
		rt[generichttp.MethodPath{Method: http.MethodPost, Path: "/target-temp"}] = generichttp.SetFloat(tempctl.SetTargetTemp)
		rt[generichttp.MethodPath{Method: http.MethodGet, Path: "/temp"}] = generichttp.GetFloat(tempctl.GetTemp)
	}
	if stepctl, ok := interface{}(ctl).(StepController); ok {
		rt[generichttp.MethodPath{Method: http.MethodGet, Path: "/step"}] = generichttp.GetFloat(stepctl.GetStep)
		rt[generichttp.MethodPath{Method: http.MethodPost, Path: "/step"}] = generichttp.SetFloat(stepctl.SetStep)
	}
	if saver, ok := interface{}(ctl).(Saver); ok {
		rt[generichttp.MethodPath{Method: http.MethodPost, Path: "/save"}] = Save(saver)
	}
	if status, ok := interface{}(ctl).(StatusReporter); ok {
		rt[generichttp.MethodPath{Method: http.MethodGet, Path: "/statword"}] = GetStatWord(status)
		rt[generichttp.MethodPath{Method: http.MethodGet, Path: "/status"}] = GetStatus(status)
	}
	if id, ok := interface{}(ctl).(Identifier); ok {
		rt[generichttp.MethodPath{Method: http.MethodGet, Path: "/id"}] = generichttp.GetString(id.ID)
		rt[generichttp.MethodPath{Method: http.MethodGet, Path: "/specs"}] = generichttp.GetString(id.Specs)
	}
	h.RouteTable = rt
	return h
}

// RT satisfies the generichttp.HTTPer interface
func (h HTTPLaserController) RT() generichttp.RouteTable {
	return h.RouteTable
}
