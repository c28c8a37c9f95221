package internal

import "fmt"

// 系統設計問題：
//   如何在伺服器端權威地驗證與推演海戰棋的棋盤狀態？
//
// 核心挑戰：
//   1. 輸入不可信：客戶端宣稱的佈署與射擊都必須重新驗證
//   2. 規則完整性：艦隊組成、邊界、相鄰禁止，缺一不可
//   3. 資訊隱藏：對手只能透過射擊結果逐步得知棋盤內容
//
// 設計方案：
//   ✅ 純資料模型 - 棋盤邏輯不做任何 I/O，方便測試
//   ✅ 暫存棋盤重演 - 驗證失敗不污染已提交的狀態
//   ✅ 相鄰禁止規則 - 船艦（含對角）不得相接，簡化沉沒判定

// BoardSize 棋盤邊長（10×10）
const BoardSize = 10

// CellState 格子狀態
type CellState uint8

const (
	CellEmpty   CellState = iota // 空格
	CellShip                     // 有船（對手不可見）
	CellHit                      // 命中
	CellMiss                     // 未命中
	CellBlocked                  // 沉船周圍（僅供客戶端顯示，無遊戲效果）
)

// Coord 棋盤座標
type Coord struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// Ship 船艦：錨點座標 + 長度 + 方向
//
// JSON 欄位名稱與客戶端協議一致（size/x/y/isHorizontal）。
type Ship struct {
	Size       int  `json:"size"`
	X          int  `json:"x"`
	Y          int  `json:"y"`
	Horizontal bool `json:"isHorizontal"`
}

// Cells 返回船艦佔據的所有格子
func (s Ship) Cells() []Coord {
	cells := make([]Coord, 0, s.Size)
	for i := 0; i < s.Size; i++ {
		if s.Horizontal {
			cells = append(cells, Coord{X: s.X + i, Y: s.Y})
		} else {
			cells = append(cells, Coord{X: s.X, Y: s.Y + i})
		}
	}
	return cells
}

// occupies 判斷船艦是否佔據指定格子
func (s Ship) occupies(x, y int) bool {
	for _, c := range s.Cells() {
		if c.X == x && c.Y == y {
			return true
		}
	}
	return false
}

// fleetComposition 標準艦隊組成：一艘四格、兩艘三格、三艘兩格、四艘一格
var fleetComposition = map[int]int{4: 1, 3: 2, 2: 3, 1: 4}

// Board 單一玩家的棋盤
//
// 由房間代表玩家持有；對手永遠拿不到原始格子內容，
// 只能透過逐次射擊結果累積資訊。
type Board struct {
	cells [BoardSize][BoardSize]CellState
}

// NewBoard 創建空棋盤
func NewBoard() *Board {
	return &Board{}
}

// Cell 讀取格子狀態（座標越界視為空格）
func (b *Board) Cell(x, y int) CellState {
	if !inBounds(x, y) {
		return CellEmpty
	}
	return b.cells[y][x]
}

// inBounds 判斷座標是否在棋盤內
func inBounds(x, y int) bool {
	return x >= 0 && x < BoardSize && y >= 0 && y < BoardSize
}

// ValidatePlacement 驗證單艘船的佈署位置
//
// 規則：
//  1. 船艦整體必須落在棋盤內
//  2. 佔據的每一格必須是空格
//  3. 每一格的八方向相鄰格（含對角）也必須是空格
//
// 相鄰禁止讓任兩艘船永不相接，沉沒判定因此不需處理共享邊界。
func (b *Board) ValidatePlacement(s Ship) error {
	if s.X < 0 || s.Y < 0 {
		return fmt.Errorf("船艦座標不正確: (%d, %d)", s.X, s.Y)
	}
	if s.Horizontal {
		if s.X+s.Size > BoardSize || s.Y >= BoardSize {
			return fmt.Errorf("船艦超出棋盤範圍: (%d, %d) 長度 %d", s.X, s.Y, s.Size)
		}
	} else {
		if s.Y+s.Size > BoardSize || s.X >= BoardSize {
			return fmt.Errorf("船艦超出棋盤範圍: (%d, %d) 長度 %d", s.X, s.Y, s.Size)
		}
	}

	for _, c := range s.Cells() {
		if b.cells[c.Y][c.X] != CellEmpty {
			return fmt.Errorf("船艦位置重疊: (%d, %d)", c.X, c.Y)
		}
		for dy := -1; dy <= 1; dy++ {
			for dx := -1; dx <= 1; dx++ {
				nx, ny := c.X+dx, c.Y+dy
				if inBounds(nx, ny) && b.cells[ny][nx] != CellEmpty {
					return fmt.Errorf("船艦不得相鄰: (%d, %d)", nx, ny)
				}
			}
		}
	}
	return nil
}

// placeShip 將船艦寫入棋盤（呼叫前必須先通過 ValidatePlacement）
func (b *Board) placeShip(s Ship) {
	for _, c := range s.Cells() {
		b.cells[c.Y][c.X] = CellShip
	}
}

// ValidateFleet 驗證整批艦隊並建立棋盤
//
// 在全新的暫存棋盤上重演每艘船的佈署：任何一艘不合法、
// 或艦隊組成不符標準，整批拒絕並返回原因，已提交的狀態不受影響。
// 全部通過才返回建好的棋盤。
func ValidateFleet(ships []Ship) (*Board, error) {
	board := NewBoard()
	counts := make(map[int]int)

	for _, ship := range ships {
		if _, ok := fleetComposition[ship.Size]; !ok {
			return nil, fmt.Errorf("不合法的船艦長度: %d", ship.Size)
		}
		if err := board.ValidatePlacement(ship); err != nil {
			return nil, err
		}
		board.placeShip(ship)
		counts[ship.Size]++
	}

	for size, want := range fleetComposition {
		if counts[size] != want {
			return nil, fmt.Errorf("%d 格船艦數量不正確: 需要 %d 艘，收到 %d 艘", size, want, counts[size])
		}
	}
	return board, nil
}

// ShotResult 單次射擊的結果
type ShotResult struct {
	Hit         bool
	Sunk        bool
	SunkShip    *Ship
	CellsAround []Coord // 沉船周圍格（已去重，排除船身與既有命中）
}

// ApplyShot 對棋盤施加一次射擊
//
// 已經打過的格子（命中或未命中）直接拒絕，不改變任何狀態。
// 命中時掃描艦隊找出被擊中的船；該船所有格子都命中即為沉沒，
// 同時收集沉船周圍格返回給呼叫端廣播。
func (b *Board) ApplyShot(ships []Ship, x, y int) (ShotResult, error) {
	if !inBounds(x, y) {
		return ShotResult{}, fmt.Errorf("座標不正確: (%d, %d)", x, y)
	}
	switch b.cells[y][x] {
	case CellHit, CellMiss:
		return ShotResult{}, fmt.Errorf("這個位置已經打過了")
	}

	var result ShotResult
	if b.cells[y][x] == CellShip {
		result.Hit = true
		b.cells[y][x] = CellHit

		for i := range ships {
			if !ships[i].occupies(x, y) {
				continue
			}
			if b.allCellsHit(ships[i]) {
				result.Sunk = true
				result.SunkShip = &ships[i]
				result.CellsAround = b.markAroundShip(ships[i])
			}
			break
		}
	} else {
		b.cells[y][x] = CellMiss
	}
	return result, nil
}

// allCellsHit 判斷船艦是否全部格子都被命中
func (b *Board) allCellsHit(s Ship) bool {
	for _, c := range s.Cells() {
		if b.cells[c.Y][c.X] != CellHit {
			return false
		}
	}
	return true
}

// AllSunk 判斷艦隊是否全軍覆沒
func (b *Board) AllSunk(ships []Ship) bool {
	if len(ships) == 0 {
		return false
	}
	for _, ship := range ships {
		if !b.allCellsHit(ship) {
			return false
		}
	}
	return true
}

// markAroundShip 收集並標記沉船周圍的格子
//
// 走訪船身每一格的八方向相鄰格，排除船身本身與既有命中，
// 去重後返回。空格同時標記為 CellBlocked；該標記只是給客戶端的
// 顯示輔助，射向這些格子仍然算一次未命中。
func (b *Board) markAroundShip(s Ship) []Coord {
	seen := make(map[Coord]bool)
	var cells []Coord

	for _, c := range s.Cells() {
		for dy := -1; dy <= 1; dy++ {
			for dx := -1; dx <= 1; dx++ {
				nc := Coord{X: c.X + dx, Y: c.Y + dy}
				if !inBounds(nc.X, nc.Y) || seen[nc] {
					continue
				}
				state := b.cells[nc.Y][nc.X]
				if state == CellShip || state == CellHit {
					continue
				}
				seen[nc] = true
				cells = append(cells, nc)
				if state == CellEmpty {
					b.cells[nc.Y][nc.X] = CellBlocked
				}
			}
		}
	}
	return cells
}
