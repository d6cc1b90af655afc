package conf

import (
	"path/filepath"

	"gopkg.in/ini.v1"
)

/*
*
配置文件示例:

	[heapd]
	user            = dba
	user_id         = 10
	superuser       = false
	data_dir        = data
	redo_dir        = redo

	[buffer]
	pool_pages      = 256

	[logs]
	log_error       = /var/log/xheap/error.log
	log_infos       = /var/log/xheap/xheap.log
	log_level       = info
*/
type Cfg struct {
	Raw *ini.File

	// heapd
	User      string
	UserID    uint32
	Superuser bool
	DataDir   string
	RedoDir   string

	// buffer
	BufferPoolPages int

	// logs
	LogError string `default:"/var/log/xheap/error.log" yaml:"log_error" json:"log_error,omitempty"`
	LogInfos string `default:"/var/log/xheap/xheap.log" yaml:"log_infos" json:"log_infos,omitempty"`
	LogLevel string `default:"info" yaml:"log_level" json:"log_level,omitempty"`
}

// NewCfg 返回默认配置
func NewCfg() *Cfg {
	return &Cfg{
		Raw:             ini.Empty(),
		User:            "dba",
		UserID:          10,
		Superuser:       false,
		DataDir:         "data",
		RedoDir:         "redo",
		BufferPoolPages: 256,
		LogError:        "",
		LogInfos:        "",
		LogLevel:        "info",
	}
}

// Load 加载ini配置文件，缺失的键保留默认值
func (cfg *Cfg) Load(path string) error {
	if path == "" {
		return nil
	}
	iniFile, err := ini.Load(path)
	if err != nil {
		return err
	}
	cfg.Raw = iniFile

	cfg.parseHeapdCfg(cfg.Raw.Section("heapd"))
	cfg.parseBufferCfg(cfg.Raw.Section("buffer"))
	cfg.parseLogsCfg(cfg.Raw.Section("logs"))

	// 相对路径按配置文件所在目录解析
	base := filepath.Dir(path)
	if !filepath.IsAbs(cfg.DataDir) {
		cfg.DataDir = filepath.Join(base, cfg.DataDir)
	}
	if !filepath.IsAbs(cfg.RedoDir) {
		cfg.RedoDir = filepath.Join(base, cfg.RedoDir)
	}
	return nil
}

func (cfg *Cfg) parseHeapdCfg(section *ini.Section) {
	cfg.User = section.Key("user").MustString(cfg.User)
	cfg.UserID = uint32(section.Key("user_id").MustUint(uint(cfg.UserID)))
	cfg.Superuser = section.Key("superuser").MustBool(cfg.Superuser)
	cfg.DataDir = section.Key("data_dir").MustString(cfg.DataDir)
	cfg.RedoDir = section.Key("redo_dir").MustString(cfg.RedoDir)
}

func (cfg *Cfg) parseBufferCfg(section *ini.Section) {
	cfg.BufferPoolPages = section.Key("pool_pages").MustInt(cfg.BufferPoolPages)
}

func (cfg *Cfg) parseLogsCfg(section *ini.Section) {
	cfg.LogError = section.Key("log_error").MustString(cfg.LogError)
	cfg.LogInfos = section.Key("log_infos").MustString(cfg.LogInfos)
	cfg.LogLevel = section.Key("log_level").MustString(cfg.LogLevel)
}
