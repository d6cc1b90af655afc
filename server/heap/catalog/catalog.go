// Package catalog 管理表的元数据
// 元数据用ini文件持久化，每个表一个section
package catalog

import (
	"os"
	"strconv"
	"sync"

	"github.com/juju/errors"
	"gopkg.in/ini.v1"
)

// RelKind 存储对象类型
type RelKind int

const (
	// KindTable 普通表
	KindTable RelKind = iota
	// KindMatView 物化视图
	KindMatView
	// KindToast 超长字段边表
	KindToast
	// KindPartitionedTable 分区表根，本身不存行
	KindPartitionedTable
	// KindIndex 二级索引
	KindIndex
	// KindView 视图
	KindView
	// KindSequence 序列
	KindSequence
)

var kindNames = map[RelKind]string{
	KindTable:            "table",
	KindMatView:          "matview",
	KindToast:            "toast",
	KindPartitionedTable: "partitioned_table",
	KindIndex:            "index",
	KindView:             "view",
	KindSequence:         "sequence",
}

func (k RelKind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return "unknown"
}

func parseKind(s string) (RelKind, error) {
	for k, name := range kindNames {
		if name == s {
			return k, nil
		}
	}
	return 0, errors.Errorf("unknown relation kind %q", s)
}

// Persistence 持久化级别
type Persistence int

const (
	// Permanent 普通持久表，修改必须先写重做日志
	Permanent Persistence = iota
	// Unlogged 不记日志的表，崩溃后内容不保证
	Unlogged
)

func (p Persistence) String() string {
	if p == Unlogged {
		return "unlogged"
	}
	return "permanent"
}

func parsePersistence(s string) (Persistence, error) {
	switch s {
	case "permanent":
		return Permanent, nil
	case "unlogged":
		return Unlogged, nil
	}
	return 0, errors.Errorf("unknown persistence %q", s)
}

// Relation 一个存储对象的元数据句柄
type Relation struct {
	ID          uint32
	Name        string
	Kind        RelKind
	Owner       uint32
	Persistence Persistence
}

// NeedsRedo 该表的页面修改是否必须写重做日志
func (r *Relation) NeedsRedo() bool {
	return r.Persistence == Permanent
}

// Catalog 表元数据注册表
type Catalog struct {
	mu     sync.RWMutex
	path   string
	byName map[string]*Relation
	byID   map[uint32]*Relation
	nextID uint32
}

// Open 加载或新建catalog文件
func Open(path string) (*Catalog, error) {
	c := &Catalog{
		path:   path,
		byName: make(map[string]*Relation),
		byID:   make(map[uint32]*Relation),
		nextID: 1,
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return c, nil
	}

	f, err := ini.Load(path)
	if err != nil {
		return nil, errors.Annotatef(err, "load catalog %s", path)
	}
	for _, section := range f.Sections() {
		if section.Name() == ini.DefaultSection {
			c.nextID = uint32(section.Key("next_id").MustUint(1))
			continue
		}
		kind, err := parseKind(section.Key("kind").String())
		if err != nil {
			return nil, errors.Trace(err)
		}
		persistence, err := parsePersistence(section.Key("persistence").String())
		if err != nil {
			return nil, errors.Trace(err)
		}
		rel := &Relation{
			ID:          uint32(section.Key("id").MustUint(0)),
			Name:        section.Name(),
			Kind:        kind,
			Owner:       uint32(section.Key("owner").MustUint(0)),
			Persistence: persistence,
		}
		c.byName[rel.Name] = rel
		c.byID[rel.ID] = rel
	}
	return c, nil
}

// Create 注册一个新表并持久化catalog
func (c *Catalog) Create(name string, kind RelKind, owner uint32, persistence Persistence) (*Relation, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.byName[name]; ok {
		return nil, errors.Errorf("relation %q already exists", name)
	}
	rel := &Relation{
		ID:          c.nextID,
		Name:        name,
		Kind:        kind,
		Owner:       owner,
		Persistence: persistence,
	}
	c.nextID++
	c.byName[name] = rel
	c.byID[rel.ID] = rel

	if err := c.saveLocked(); err != nil {
		delete(c.byName, name)
		delete(c.byID, rel.ID)
		c.nextID--
		return nil, errors.Trace(err)
	}
	return rel, nil
}

// Get 按名称查找表
func (c *Catalog) Get(name string) (*Relation, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	rel, ok := c.byName[name]
	return rel, ok
}

// GetByID 按ID查找表
func (c *Catalog) GetByID(id uint32) (*Relation, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	rel, ok := c.byID[id]
	return rel, ok
}

// saveLocked 写回catalog文件，调用方需持有c.mu
func (c *Catalog) saveLocked() error {
	f := ini.Empty()
	f.Section(ini.DefaultSection).Key("next_id").SetValue(strconv.FormatUint(uint64(c.nextID), 10))
	for name, rel := range c.byName {
		section := f.Section(name)
		section.Key("id").SetValue(strconv.FormatUint(uint64(rel.ID), 10))
		section.Key("kind").SetValue(rel.Kind.String())
		section.Key("owner").SetValue(strconv.FormatUint(uint64(rel.Owner), 10))
		section.Key("persistence").SetValue(rel.Persistence.String())
	}
	return errors.Annotatef(f.SaveTo(c.path), "save catalog %s", c.path)
}
