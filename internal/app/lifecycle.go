package app

import (
	"context"
	"fmt"
)

// Run 启动应用并阻塞到 ctx 结束，随后优雅关闭
//
// 调用方通常传入 signal.NotifyContext 返回的 ctx：
//
//	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
//	defer stop()
//	return app.Run(ctx, app.NewBootstrap(app.RoleGateway, cfg))
func Run(ctx context.Context, b *Bootstrap) error {
	rt, err := b.Start(ctx)
	if err != nil {
		return err
	}

	<-ctx.Done()
	appLog.Info("收到退出信号，正在关闭", "role", string(b.role))

	// 停止阶段不能沿用已取消的 ctx
	if err := rt.Stop(context.Background()); err != nil {
		return fmt.Errorf("停止应用失败: %w", err)
	}
	return nil
}
