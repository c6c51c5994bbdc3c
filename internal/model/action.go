package model

// ActionResult 部署动作的结果，创建后不再修改
type ActionResult struct {
	IsSuccess bool
	Message   string
	// Abort 为 true 时流水线停止执行后续任务
	Abort bool
	Steps []ActionStep
}

// ActionStep 预览或执行时报告的单个步骤
type ActionStep struct {
	Category    string
	Description string
	// HasChanged 为 false 表示目标已是期望状态
	HasChanged bool
}

// Success 创建成功结果
func Success(message string) ActionResult {
	return ActionResult{IsSuccess: true, Message: message}
}

// Failure 创建失败结果
func Failure(message string) ActionResult {
	return ActionResult{IsSuccess: false, Message: message}
}

// Aborted 创建失败且中止流水线的结果
func Aborted(message string) ActionResult {
	return ActionResult{IsSuccess: false, Message: message, Abort: true}
}

// WithSteps 返回附带步骤的副本
func (r ActionResult) WithSteps(steps []ActionStep) ActionResult {
	r.Steps = append([]ActionStep(nil), steps...)
	return r
}

// HasChanges 判断步骤列表中是否存在实际变更
func HasChanges(steps []ActionStep) bool {
	for _, s := range steps {
		if s.HasChanged {
			return true
		}
	}
	return false
}
