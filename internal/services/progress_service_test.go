// internal/services/progress_service_test.go
package services

import (
	"testing"
)

func TestTrackerCompleteThenFailKeepsFinalState(t *testing.T) {
	svc := NewProgressService()
	tracker := svc.StartTask()

	tracker.Complete("全部完成")
	// 已终结的任务再被取消不应panic, 状态也不应改变
	tracker.Fail("用户取消了任务")

	if tracker.Status != TaskStatusCompleted {
		t.Errorf("状态不应被覆盖: %s", tracker.Status)
	}
	if tracker.Message != "全部完成" {
		t.Errorf("消息不应被覆盖: %s", tracker.Message)
	}

	select {
	case <-tracker.Done:
	default:
		t.Error("Done通道应已关闭")
	}
}

func TestTrackerDoubleTerminationIsSafe(t *testing.T) {
	svc := NewProgressService()

	tracker := svc.CreateTracker("task-a")
	tracker.Fail("第一次失败")
	tracker.Fail("第二次失败")
	tracker.Complete("迟到的完成")
	if tracker.Status != TaskStatusFailed {
		t.Errorf("首个终结状态应保留: %s", tracker.Status)
	}
}

func TestSubscribeReplaysCurrentState(t *testing.T) {
	svc := NewProgressService()
	tracker := svc.StartTask()
	tracker.UpdateScene(40, 2, "场景 2/5: success")

	sub := tracker.Subscribe()
	defer tracker.Unsubscribe(sub)

	select {
	case update := <-sub:
		if update.Progress != 40 || update.Status != TaskStatusRunning {
			t.Errorf("订阅快照不符: %+v", update)
		}
	default:
		t.Fatal("订阅后应立即收到当前状态")
	}
}
