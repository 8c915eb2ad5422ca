package repository

import (
	"social_chat/internal/models"
	"social_chat/internal/storage"
)

type UserRepository interface {
	Create(user *models.User) error
	FindByID(id uint) (*models.User, error)
	FindByUsername(username string) (*models.User, error)
	// AcceptedFriendIDs 回傳與指定用戶為已接受好友關係的所有用戶 ID
	AcceptedFriendIDs(userID uint) ([]uint, error)
}

type userRepository struct {
	db *storage.PostgresDB
}

func NewUserRepository(db *storage.PostgresDB) UserRepository {
	return &userRepository{db: db}
}

func (r *userRepository) Create(user *models.User) error {
	return r.db.Create(user).Error
}

func (r *userRepository) FindByID(id uint) (*models.User, error) {
	var user models.User
	if err := r.db.First(&user, id).Error; err != nil {
		return nil, err
	}
	return &user, nil
}

func (r *userRepository) FindByUsername(username string) (*models.User, error) {
	var user models.User
	if err := r.db.Where("username = ?", username).First(&user).Error; err != nil {
		return nil, err
	}
	return &user, nil
}

func (r *userRepository) AcceptedFriendIDs(userID uint) ([]uint, error) {
	// 好友關係是單行雙向的，兩個方向都要查
	var ids []uint
	err := r.db.Model(&models.Friendship{}).
		Select("CASE WHEN user_id = ? THEN friend_id ELSE user_id END", userID).
		Where("(user_id = ? OR friend_id = ?) AND status = ?",
			userID, userID, models.FriendshipAccepted).
		Scan(&ids).Error
	if err != nil {
		return nil, err
	}
	return ids, nil
}
