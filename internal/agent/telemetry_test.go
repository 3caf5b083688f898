package agent

import (
	"testing"

	psnet "github.com/shirou/gopsutil/v4/net"
	"github.com/shirou/gopsutil/v4/sensors"
	"github.com/stretchr/testify/assert"
)

func TestPickTemperature(t *testing.T) {
	cases := []struct {
		name    string
		temps   []sensors.TemperatureStat
		want    float64
		wantKey string
		wantOK  bool
	}{
		{
			name: "preferred sensor wins over earlier generic one",
			temps: []sensors.TemperatureStat{
				{SensorKey: "nouveau", Temperature: 60},
				{SensorKey: "coretemp_package_id_0", Temperature: 48.5},
			},
			want: 48.5, wantKey: "coretemp_package_id_0", wantOK: true,
		},
		{
			name: "implausible preferred reading is skipped",
			temps: []sensors.TemperatureStat{
				{SensorKey: "cpu_thermal", Temperature: 200},
				{SensorKey: "k10temp_tctl", Temperature: 55},
			},
			want: 55, wantKey: "k10temp_tctl", wantOK: true,
		},
		{
			name: "falls back to any plausible sensor",
			temps: []sensors.TemperatureStat{
				{SensorKey: "iwlwifi_1", Temperature: 39},
			},
			want: 39, wantKey: "iwlwifi_1", wantOK: true,
		},
		{
			name:   "nothing usable",
			temps:  []sensors.TemperatureStat{{SensorKey: "bogus", Temperature: -40}},
			wantOK: false,
		},
		{name: "no sensors", wantOK: false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, key, ok := pickTemperature(tc.temps)
			assert.Equal(t, tc.wantOK, ok)
			if tc.wantOK {
				assert.Equal(t, tc.want, got)
				assert.Equal(t, tc.wantKey, key)
			}
		})
	}
}

func TestStatusSummary(t *testing.T) {
	temp := 47.25
	s := Status{
		CPUPercent:  12.34,
		MemPercent:  50,
		MemUsed:     2 << 30,
		MemTotal:    4 << 30,
		DiskPercent: 25,
		DiskUsed:    10 << 30,
		DiskTotal:   40 << 30,
		CPUTemp:     &temp,
		TempSource:  "cpu_thermal",
	}
	got := s.Summary()
	assert.Equal(t, "12.3%", got.CPU)
	assert.Equal(t, "50.0% (2.0 GiB / 4.0 GiB)", got.RAM)
	assert.Equal(t, "25.0% (10.0 GiB / 40.0 GiB)", got.Disk)
	assert.Equal(t, "47.2°C (cpu_thermal)", got.Temperature)

	s.CPUTemp = nil
	assert.Contains(t, s.Summary().Temperature, "N/A")
}

func TestFromInterfaceStatAndSort(t *testing.T) {
	ifaces := []Interface{
		fromInterfaceStat(psnet.InterfaceStat{Name: "lo", Flags: []string{"up", "loopback"}, Addrs: psnet.InterfaceAddrList{{Addr: "127.0.0.1/8"}}}),
		fromInterfaceStat(psnet.InterfaceStat{Name: "docker0", Flags: []string{"broadcast"}}),
		fromInterfaceStat(psnet.InterfaceStat{Name: "wlan0", HardwareAddr: "aa:bb:cc:dd:ee:ff", Flags: []string{"up"},
			Addrs: psnet.InterfaceAddrList{{Addr: "192.168.1.20/24"}, {Addr: "fe80::1%wlan0/64"}}}),
		fromInterfaceStat(psnet.InterfaceStat{Name: "eth0", Flags: []string{"up"}}),
		fromInterfaceStat(psnet.InterfaceStat{Name: "enp3s0"}),
	}
	sortInterfaces(ifaces)

	names := make([]string, len(ifaces))
	for i, f := range ifaces {
		names[i] = f.Name
	}
	assert.Equal(t, []string{"eth0", "wlan0", "enp3s0", "docker0", "lo"}, names)

	wlan := ifaces[1]
	assert.True(t, wlan.Up)
	assert.Equal(t, "AA:BB:CC:DD:EE:FF", wlan.MAC)
	assert.Equal(t, []string{"192.168.1.20/24"}, wlan.IPv4)
	assert.Equal(t, []string{"fe80::1"}, wlan.IPv6)
	assert.False(t, ifaces[3].Up)
}
