package tpsctrl

import (
	"io"
	"time"

	"github.com/juju/ratelimit"
	"github.com/rs/zerolog/log"
)

// TPSController 用于调控TPS, 也可以按字节数限制读取速率
type TPSController struct {
	quota  int
	bucket *ratelimit.Bucket
}

// NewTPSController 返回TPSController实例.
// Max(TPS) == quota, quota <= 0 表示不限速.
func NewTPSController(quota int) *TPSController {
	ctrl := TPSController{}
	ctrl.quota = quota
	if ctrl.quota <= 0 {
		return &ctrl
	}

	interval := time.Second / time.Duration(ctrl.quota)
	if interval <= 0 {
		interval = time.Nanosecond
	}
	ctrl.bucket = ratelimit.NewBucket(interval, int64(ctrl.quota))

	return &ctrl
}

// Quota 返回每秒可用的令牌数.
func (ctrl *TPSController) Quota() int {
	return ctrl.quota
}

// Take 从事务桶中取1个令牌, 如果当前无可用令牌, 等待y秒时间, 直到出现可用令牌.
func (ctrl *TPSController) Take() {
	ctrl.TakeX(1)
}

// TakeX 从事务桶中取x个令牌, 如果当前无可用令牌, 等待y秒时间, 直到出现可用令牌.
func (ctrl *TPSController) TakeX(x int64) {
	if ctrl.bucket == nil {
		return
	}
	waitUntilAvailable := ctrl.bucket.Take(x)
	if waitUntilAvailable != 0 {
		log.Warn().Msgf("tps quota limit exceeds, wait %s secs until resource turns to be available", waitUntilAvailable.String())
		time.Sleep(waitUntilAvailable)
	}
}

// Throttle 返回限速后的io.Reader, 每读取1个字节消耗1个令牌.
func (ctrl *TPSController) Throttle(r io.Reader) io.Reader {
	if ctrl.bucket == nil {
		return r
	}
	return ratelimit.Reader(r, ctrl.bucket)
}
