package meshpb

import (
	"fmt"
	"strconv"
	"strings"
)

// ConfigType 设备配置分区，对应 Config oneof 字段号减一
type ConfigType int32

const (
	ConfigDevice ConfigType = iota
	ConfigPosition
	ConfigPower
	ConfigNetwork
	ConfigDisplay
	ConfigLoRa
	ConfigBluetooth
	ConfigSecurity
	ConfigSessionKey
	ConfigDeviceUI
)

var configTypeNames = [...]string{"DEVICE", "POSITION", "POWER", "NETWORK", "DISPLAY", "LORA", "BLUETOOTH", "SECURITY", "SESSIONKEY", "DEVICEUI"}

func (t ConfigType) String() string {
	if t >= 0 && int(t) < len(configTypeNames) {
		return configTypeNames[t] + "_CONFIG"
	}
	return fmt.Sprintf("CONFIG_%d", int32(t))
}

// ModuleConfigType 模块配置分区，对应 ModuleConfig oneof 字段号减一
type ModuleConfigType int32

const (
	ModuleMQTT ModuleConfigType = iota
	ModuleSerial
	ModuleExternalNotification
	ModuleStoreForward
	ModuleRangeTest
	ModuleTelemetry
	ModuleCannedMessage
	ModuleAudio
	ModuleRemoteHardware
	ModuleNeighborInfo
	ModuleAmbientLighting
	ModuleDetectionSensor
	ModulePaxcounter
)

var moduleTypeNames = [...]string{"MQTT", "SERIAL", "EXTNOTIF", "STOREFORWARD", "RANGETEST", "TELEMETRY", "CANNEDMSG", "AUDIO", "REMOTEHARDWARE", "NEIGHBORINFO", "AMBIENTLIGHTING", "DETECTIONSENSOR", "PAXCOUNTER"}

func (t ModuleConfigType) String() string {
	if t >= 0 && int(t) < len(moduleTypeNames) {
		return moduleTypeNames[t] + "_CONFIG"
	}
	return fmt.Sprintf("MODULE_%d", int32(t))
}

// Config 一个配置分区；Payload 为该分区子消息的原始编码，由上层表单自行解释
type Config struct {
	Type    ConfigType
	Payload []byte
}

func (c *Config) Marshal() ([]byte, error) {
	if c.Type < 0 || int(c.Type) >= len(configTypeNames) {
		return nil, fmt.Errorf("meshpb: unknown config type %d", c.Type)
	}
	return appendMessage(nil, fieldNum(int32(c.Type)), c.Payload, true), nil
}

func (c *Config) Unmarshal(b []byte) error {
	found := false
	err := walk(b, func(f field) error {
		n := int(f.num)
		if f.typ == bytesType && n >= 1 && n <= len(configTypeNames) && !found {
			c.Type = ConfigType(n - 1)
			c.Payload = cloneBytes(f.bytes)
			found = true
		}
		return nil
	})
	if err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("%w: config without variant", ErrMalformed)
	}
	return nil
}

// ModuleConfig 一个模块配置分区
type ModuleConfig struct {
	Type    ModuleConfigType
	Payload []byte
}

func (c *ModuleConfig) Marshal() ([]byte, error) {
	if c.Type < 0 || int(c.Type) >= len(moduleTypeNames) {
		return nil, fmt.Errorf("meshpb: unknown module config type %d", c.Type)
	}
	return appendMessage(nil, fieldNum(int32(c.Type)), c.Payload, true), nil
}

func (c *ModuleConfig) Unmarshal(b []byte) error {
	found := false
	err := walk(b, func(f field) error {
		n := int(f.num)
		if f.typ == bytesType && n >= 1 && n <= len(moduleTypeNames) && !found {
			c.Type = ModuleConfigType(n - 1)
			c.Payload = cloneBytes(f.bytes)
			found = true
		}
		return nil
	})
	if err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("%w: module config without variant", ErrMalformed)
	}
	return nil
}

// ParseConfigType 接受 "lora"、"LORA_CONFIG" 或分区序号
func ParseConfigType(s string) (ConfigType, bool) {
	i, ok := parseVariant(s, configTypeNames[:])
	return ConfigType(i), ok
}

// ParseModuleConfigType 接受 "telemetry"、"TELEMETRY_CONFIG" 或分区序号
func ParseModuleConfigType(s string) (ModuleConfigType, bool) {
	i, ok := parseVariant(s, moduleTypeNames[:])
	return ModuleConfigType(i), ok
}

func parseVariant(s string, names []string) (int, bool) {
	s = strings.TrimSuffix(strings.ToUpper(strings.TrimSpace(s)), "_CONFIG")
	if n, err := strconv.Atoi(s); err == nil {
		return n, n >= 0 && n < len(names)
	}
	for i, name := range names {
		if name == s {
			return i, true
		}
	}
	return 0, false
}
