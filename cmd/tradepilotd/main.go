package main

import (
	"flag"
	"fmt"

	"github.com/zeromicro/go-zero/rest"

	"tradepilot/internal/config"
	"tradepilot/internal/handler"
	"tradepilot/internal/svc"
)

var configFile = flag.String("f", "etc/tradepilot.yaml", "the config file")

func main() {
	flag.Parse()

	cfg := config.MustLoad(*configFile)

	server := rest.MustNewServer(cfg.RestConf)
	defer server.Stop()

	svcCtx := svc.MustNewServiceContext(*cfg)
	defer svcCtx.StopAutotrading()

	handler.RegisterHandlers(server, svcCtx)

	fmt.Printf("Starting server at %s:%d...\n", cfg.Host, cfg.Port)
	server.Start()
}
