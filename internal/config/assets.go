package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// AssetManifest 是 AssetManifest 指向的 YAML 文件结构：
//
//	generation: qr-annonay-escalade-v2
//	assets:
//	  - index.html
//	  - qr.png
type AssetManifest struct {
	Generation string   `yaml:"generation"`
	Assets     []string `yaml:"assets"`
}

// LoadAssetManifest 读取并解析资源清单，清单中至少需要一个资源。
func LoadAssetManifest(path string) (*AssetManifest, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("读取资源清单失败: %w", err)
	}
	var m AssetManifest
	if err := yaml.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("解析资源清单失败: %w", err)
	}
	if len(m.Assets) == 0 {
		return nil, newFieldError("Agent.AssetManifest", "资源清单为空")
	}
	return &m, nil
}
