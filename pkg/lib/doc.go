// Package lib 包含与业务无关的基础设施工具库
//
//   - log: 按组件命名的日志封装
//
// lib 下的包不依赖 internal/ 中的任何代码，可被 cmd 与所有内部模块直接引用。
package lib
