package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"

	"github.com/zhukovaskychina/xheap-surgery/logger"
	"github.com/zhukovaskychina/xheap-surgery/server/conf"
	"github.com/zhukovaskychina/xheap-surgery/server/heap/catalog"
	"github.com/zhukovaskychina/xheap-surgery/server/heap/engine"
	"github.com/zhukovaskychina/xheap-surgery/server/heap/surgery"
	"github.com/zhukovaskychina/xheap-surgery/server/heap/tuple"
)

const help = `
******************************************************************************************
*xheap-surgery 损坏堆表应急修复工具
*
*帮助:
*1. -- help
*2. -- configPath   指定配置文件
*3. -- op           操作: create | insert | kill | freeze | show
*4. -- relation     目标表名
*5. -- tids         行标识列表，形如 "(0,1),(0,2)"
*6. -- data         insert操作写入的行内容
******************************************************************************************
`

func main() {
	var (
		configPath string
		op         string
		relation   string
		tidsArg    string
		data       string
	)
	flag.StringVar(&configPath, "configPath", "", "配置文件路径")
	flag.StringVar(&op, "op", "", "操作: create | insert | kill | freeze | show")
	flag.StringVar(&relation, "relation", "", "目标表名")
	flag.StringVar(&tidsArg, "tids", "", "行标识列表，形如 (0,1),(0,2)")
	flag.StringVar(&data, "data", "", "insert写入的行内容")
	flag.Parse()

	if op == "" {
		fmt.Print(help)
		os.Exit(1)
	}

	cfg := conf.NewCfg()
	if err := cfg.Load(configPath); err != nil {
		fmt.Printf("加载配置文件失败: %v\n", err)
		os.Exit(1)
	}

	if err := logger.InitLogger(logger.LogConfig{
		ErrorLogPath: cfg.LogError,
		InfoLogPath:  cfg.LogInfos,
		LogLevel:     cfg.LogLevel,
	}); err != nil {
		fmt.Printf("初始化日志失败: %v\n", err)
		os.Exit(1)
	}

	eng, err := engine.Open(cfg)
	if err != nil {
		logger.Fatalf("打开存储引擎失败: %v", err)
	}
	defer eng.Close()

	if err := run(eng, op, relation, tidsArg, data); err != nil {
		logger.Errorf("%s失败: %v", op, err)
		os.Exit(1)
	}
}

func run(eng *engine.Engine, op, relation, tidsArg, data string) error {
	ctx := context.Background()

	switch op {
	case "create":
		_, err := eng.CreateRelation(relation, catalog.KindTable, catalog.Permanent)
		return err

	case "insert":
		tid, err := eng.InsertTuple(ctx, relation, []byte(data))
		if err != nil {
			return err
		}
		fmt.Printf("inserted at %s\n", tid)
		return nil

	case "kill", "freeze":
		tids, err := parseTids(tidsArg)
		if err != nil {
			return err
		}
		var res *surgery.Result
		if op == "kill" {
			res, err = surgery.Kill(ctx, eng, relation, tids)
		} else {
			res, err = surgery.Freeze(ctx, eng, relation, tids)
		}
		if err != nil {
			return err
		}
		for _, n := range res.Notices {
			fmt.Printf("NOTICE: %s\n", n.Message)
		}
		fmt.Printf("%s: %d rows changed\n", op, res.Changed)
		return nil

	case "show":
		rows, err := eng.ScanVisible(ctx, relation)
		if err != nil {
			return err
		}
		for _, row := range rows {
			fmt.Printf("%s  %s\n", row.TID, string(row.Data))
		}
		fmt.Printf("%d rows visible\n", len(rows))
		return nil
	}

	return fmt.Errorf("未知操作 %q", op)
}

var tidPattern = regexp.MustCompile(`\(\s*(\d+)\s*,\s*(\d+)\s*\)`)

// parseTids 解析 "(0,1),(0,2)" 形式的行标识列表
func parseTids(s string) ([]*tuple.TID, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	matches := tidPattern.FindAllStringSubmatch(s, -1)
	tids := make([]*tuple.TID, 0, len(matches))
	for _, m := range matches {
		blk, err := strconv.ParseUint(m[1], 10, 32)
		if err != nil {
			return nil, err
		}
		off, err := strconv.ParseUint(m[2], 10, 16)
		if err != nil {
			return nil, err
		}
		t := tuple.NewTID(uint32(blk), uint16(off))
		tids = append(tids, &t)
	}
	return tids, nil
}
