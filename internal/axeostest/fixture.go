// Package axeostest provides AxeOS payload fixtures and a fake device server for tests.
package axeostest

import (
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
)

// SystemInfoJSON is a /api/system/info payload captured from a BM1370 device
// running AxeOS v2.10.1.
const SystemInfoJSON = `{
	"power":	22.060667037963867,
	"voltage":	5046.875,
	"current":	14937.5,
	"temp":	64.125,
	"temp2":	0,
	"vrTemp":	86,
	"maxPower":	40,
	"nominalVoltage":	5,
	"hashRate":	1184.8093224631666,
	"expectedHashrate":	1071,
	"bestDiff":	"2.03 G",
	"bestSessionDiff":	"138.17 M",
	"poolDifficulty":	1000,
	"isUsingFallbackStratum":	0,
	"isPSRAMAvailable":	1,
	"freeHeap":	8372724,
	"coreVoltage":	1150,
	"coreVoltageActual":	1131,
	"frequency":	525,
	"ssid":	"My Home Wi-Fi",
	"macAddr":	"66:F3:55:23:1A:BD",
	"hostname":	"BM1370",
	"wifiStatus":	"Connected!",
	"wifiRSSI":	-35,
	"apEnabled":	0,
	"sharesAccepted":	20205,
	"sharesRejected":	24,
	"sharesRejectedReasons":	[{
			"message":	"Above target",
			"count":	20
		}, {
			"message":	"Stale",
			"count":	4
		}],
	"uptimeSeconds":	258691,
	"smallCoreCount":	2040,
	"ASICModel":	"BM1370",
	"stratumURL":	"192.168.1.11",
	"stratumPort":	3333,
	"stratumUser":	"1PKN98VN2z5gwSGZvGKS2bj8aADZBkyhkZ",
	"stratumSuggestedDifficulty":	1000,
	"stratumExtranonceSubscribe":	0,
	"fallbackStratumURL":	"solo.ckpool.org",
	"fallbackStratumPort":	3333,
	"fallbackStratumUser":	"1PKN98VN2z5gwSGZvGKS2bj8aADZBkyhkZ",
	"fallbackStratumSuggestedDifficulty":	1000,
	"fallbackStratumExtranonceSubscribe":	0,
	"responseTime":	22.331,
	"version":	"v2.10.1",
	"axeOSVersion":	"v2.10.1",
	"idfVersion":	"v5.5",
	"boardVersion":	"601",
	"runningPartition":	"ota_1",
	"overheat_mode":	0,
	"overclockEnabled":	0,
	"display":	"SSD1306 (128x32)",
	"rotation":	0,
	"invertscreen":	0,
	"displayTimeout":	-1,
	"autofanspeed":	1,
	"fanspeed":	100,
	"minFanSpeed":	25,
	"temptarget":	60,
	"fanrpm":	5471,
	"statsFrequency":	0
}`

// SystemInfoWith returns SystemInfoJSON with the raw JSON value of field replaced.
// An empty value removes the field.
func SystemInfoWith(field, value string) string {
	lines := strings.Split(SystemInfoJSON, "\n")
	prefix := "\t\"" + field + "\":\t"
	for i, line := range lines {
		if !strings.HasPrefix(line, prefix) {
			continue
		}
		if value == "" {
			return strings.Join(append(lines[:i:i], lines[i+1:]...), "\n")
		}
		lines[i] = prefix + value + ","
		return strings.Join(lines, "\n")
	}
	return SystemInfoJSON
}

// Device is a fake AxeOS device backed by an httptest.Server.
type Device struct {
	*httptest.Server

	requests atomic.Int64
	body     atomic.Value // string
	status   atomic.Int64
}

// NewDevice starts a fake device serving SystemInfoJSON on /api/system/info.
// The server is closed when the test ends if cleanup is non-nil.
func NewDevice(cleanup func(func())) *Device {
	d := newDevice()
	d.Server = httptest.NewServer(d.handler())
	if cleanup != nil {
		cleanup(d.Close)
	}
	return d
}

// NewDeviceAt starts a fake device listening on addr, such as "127.0.0.2:8080".
func NewDeviceAt(addr string, cleanup func(func())) (*Device, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	d := newDevice()
	d.Server = httptest.NewUnstartedServer(d.handler())
	d.Server.Listener.Close()
	d.Server.Listener = ln
	d.Server.Start()
	if cleanup != nil {
		cleanup(d.Close)
	}
	return d, nil
}

func newDevice() *Device {
	d := &Device{}
	d.body.Store(SystemInfoJSON)
	d.status.Store(http.StatusOK)
	return d
}

func (d *Device) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/system/info", func(w http.ResponseWriter, r *http.Request) {
		d.requests.Add(1)
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(int(d.status.Load()))
		w.Write([]byte(d.body.Load().(string)))
	})
	return mux
}

// SetBody replaces the payload served by the device.
func (d *Device) SetBody(body string) {
	d.body.Store(body)
}

// SetStatus sets the HTTP status served by the device.
func (d *Device) SetStatus(code int) {
	d.status.Store(int64(code))
}

// Requests returns how many system info requests the device has served.
func (d *Device) Requests() int64 {
	return d.requests.Load()
}

// Host returns the device's host:port.
func (d *Device) Host() string {
	return strings.TrimPrefix(d.URL, "http://")
}
