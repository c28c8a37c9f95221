// Package battleship 提供了一個權威式的雙人海戰棋遊戲伺服器。
//
// 實現了一個固定房間池的即時對戰服務，所有遊戲規則都在伺服器端驗證，
// 包含以下核心功能：
//
// 房間生命週期
//
// 每個房間是一個獨立的狀態機：
//   - 大廳等待 → 佈署艦隊 → 戰鬥 → 遊戲結束 → 重置
//   - 至多兩名玩家，先到先得
//   - 玩家離開或斷線即重置房間
//
// # 伺服器端規則驗證
//
// 客戶端輸入一律視為不可信：
//   - 艦隊組成與佈署位置在伺服器端完整重演驗證
//   - 射擊必須輪到自己、座標必須合法且未重複
//   - 聊天文字經過消毒後才廣播
//
// # WebSocket 通訊
//
// 單一持久連線承載所有訊息：
//   - 訊息以 type 欄位分流，未知類型一律拒絕
//   - 每連線 60 秒 60 則的訊息額度
//   - 進出站訊息皆有大小上限
//
// 併發安全設計
//
// 房間操作以互斥鎖保證原子性：
//   - 每個房間一把鎖，讀取與提交之間不讓出
//   - 延遲的遊戲結束廣播以世代編號防止過期執行
//   - 廣播為盡力而為，慢速連線不影響遊戲推進
package battleship
