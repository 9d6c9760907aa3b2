// Package main 提供桌宠设备模拟器
//
// 使用方法:
//
//	device-sim --device-id pet001 --secret s3cret --mqtt-host localhost --mqtt-port 1883
package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/deskpet/pet-gateway/internal/devicesim"
	"github.com/deskpet/pet-gateway/internal/util/logger"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "错误: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	def := devicesim.DefaultOptions()

	fs := pflag.NewFlagSet("device-sim", pflag.ContinueOnError)
	deviceID := fs.String("device-id", "", "设备 ID（必填）")
	secret := fs.String("secret", "", "设备密钥（必填）")
	host := fs.String("mqtt-host", "localhost", "网关 MQTT 地址")
	port := fs.Int("mqtt-port", 1883, "网关 MQTT 端口")
	telemetry := fs.Duration("telemetry-interval", def.TelemetryInterval, "遥测上报间隔")
	ackDelay := fs.Duration("ack-delay", def.AckDelay, "回执延迟")
	schema := fs.Int("schema-version", def.SchemaVersion, "协议版本")
	reconnect := fs.Duration("reconnect-interval", 0, "主动断线周期（0 = 不断线）")
	down := fs.Duration("reconnect-down", def.ReconnectDown, "断开后重连等待")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}
	if *deviceID == "" || *secret == "" {
		return errors.New("--device-id 与 --secret 必须指定")
	}

	logger.Setup(os.Stderr)

	opts := devicesim.Options{
		Broker:            "tcp://" + net.JoinHostPort(*host, strconv.Itoa(*port)),
		DeviceID:          *deviceID,
		Secret:            *secret,
		TelemetryInterval: *telemetry,
		AckDelay:          *ackDelay,
		SchemaVersion:     *schema,
		ReconnectInterval: *reconnect,
		ReconnectDown:     *down,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	fmt.Printf("设备 %s 连接 %s，按 Ctrl+C 退出\n", opts.DeviceID, opts.Broker)
	start := time.Now()
	err := devicesim.New(opts, nil).Run(ctx)
	fmt.Printf("运行 %s 后退出\n", time.Since(start).Round(time.Second))
	return err
}
